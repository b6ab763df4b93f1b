package pinning

import (
	"context"
	"sync"
)

// Fake pins nothing. It returns ContentID, or Err when set.
type Fake struct {
	mu        sync.Mutex
	ContentID string
	Err       error
	pinned    []any
}

func (f *Fake) Pin(_ context.Context, _ Credentials, document any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.pinned = append(f.pinned, document)
	return f.ContentID, nil
}

// Pinned returns the documents pinned so far.
func (f *Fake) Pinned() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.pinned...)
}
