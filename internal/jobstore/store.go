package jobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Status is the durable job status. It survives across invocations and is
// the only guard against re-submitting a transaction.
type Status string

const (
	StatusRegistered   Status = "registered"
	StatusRunning      Status = "running"
	StatusSnapshotting Status = "snapshotting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// ErrJobNotFound is returned when no record exists for a job id.
var ErrJobNotFound = errors.New("job not found")

// Job is the persisted job record.
type Job struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	TxHash      string          `json:"txHash,omitempty"`
	Receipt     json.RawMessage `json:"receipt,omitempty"`
	ExplorerURL string          `json:"explorerUrl,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Asset links a minted asset to its owner and the job that created it.
type Asset struct {
	UserID    string          `json:"userId"`
	JobID     string          `json:"jobId"`
	ContentID string          `json:"contentId"`
	TxHash    string          `json:"txHash"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Store abstracts job persistence.
type Store interface {
	GetStatus(ctx context.Context, jobID string) (Status, error)
	SetStatus(ctx context.Context, jobID string, status Status) error
	SetHash(ctx context.Context, jobID, txHash string) error
	SetReceipt(ctx context.Context, jobID string, receipt []byte, explorerURL string) error
	SetResult(ctx context.Context, jobID string, result []byte) error
	AddAsset(ctx context.Context, asset Asset) error
	ListAssets(ctx context.Context, userID string) ([]Asset, error)
}

// Registrar creates job records. The API that accepts user requests owns
// this in production; the local adapters expose it for dev runs and tests.
// Registering a known job is a no-op.
type Registrar interface {
	Register(ctx context.Context, jobID string) error
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]Job
	assets []Asset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]Job),
	}
}

func (m *MemoryStore) Register(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; ok {
		return nil
	}
	m.jobs[jobID] = Job{ID: jobID, Status: StatusRegistered, UpdatedAt: time.Now().UTC()}
	return nil
}

// Job returns a copy of the record for jobID.
func (m *MemoryStore) Job(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

func (m *MemoryStore) GetStatus(_ context.Context, jobID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Status, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, jobID string, status Status) error {
	return m.update(jobID, func(j *Job) { j.Status = status })
}

func (m *MemoryStore) SetHash(_ context.Context, jobID, txHash string) error {
	return m.update(jobID, func(j *Job) { j.TxHash = txHash })
}

func (m *MemoryStore) SetReceipt(_ context.Context, jobID string, receipt []byte, explorerURL string) error {
	return m.update(jobID, func(j *Job) {
		j.Receipt = append(json.RawMessage(nil), receipt...)
		j.ExplorerURL = explorerURL
	})
}

func (m *MemoryStore) SetResult(_ context.Context, jobID string, result []byte) error {
	return m.update(jobID, func(j *Job) { j.Result = append(json.RawMessage(nil), result...) })
}

func (m *MemoryStore) AddAsset(_ context.Context, asset Asset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hasAsset(m.assets, asset.JobID) {
		return nil
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	m.assets = append(m.assets, asset)
	return nil
}

func (m *MemoryStore) ListAssets(_ context.Context, userID string) ([]Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterAssets(m.assets, userID), nil
}

func (m *MemoryStore) update(jobID string, fn func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	m.jobs[jobID] = job
	return nil
}

// FileStore persists jobs and assets to disk so consecutive CLI invocations
// see each other's progress. Suitable for local dev only.
type FileStore struct {
	path string
	mu   sync.Mutex
	data fileData
}

type fileData struct {
	Jobs   map[string]Job `json:"jobs"`
	Assets []Asset        `json:"assets"`
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: fileData{Jobs: make(map[string]Job)},
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return err
	}
	if f.data.Jobs == nil {
		f.data.Jobs = make(map[string]Job)
	}
	return nil
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Register(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data.Jobs[jobID]; ok {
		return nil
	}
	f.data.Jobs[jobID] = Job{ID: jobID, Status: StatusRegistered, UpdatedAt: time.Now().UTC()}
	return f.persist()
}

func (f *FileStore) GetStatus(_ context.Context, jobID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.data.Jobs[jobID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Status, nil
}

func (f *FileStore) SetStatus(_ context.Context, jobID string, status Status) error {
	return f.update(jobID, func(j *Job) { j.Status = status })
}

func (f *FileStore) SetHash(_ context.Context, jobID, txHash string) error {
	return f.update(jobID, func(j *Job) { j.TxHash = txHash })
}

func (f *FileStore) SetReceipt(_ context.Context, jobID string, receipt []byte, explorerURL string) error {
	return f.update(jobID, func(j *Job) {
		j.Receipt = append(json.RawMessage(nil), receipt...)
		j.ExplorerURL = explorerURL
	})
}

func (f *FileStore) SetResult(_ context.Context, jobID string, result []byte) error {
	return f.update(jobID, func(j *Job) { j.Result = append(json.RawMessage(nil), result...) })
}

func (f *FileStore) AddAsset(_ context.Context, asset Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hasAsset(f.data.Assets, asset.JobID) {
		return nil
	}
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	f.data.Assets = append(f.data.Assets, asset)
	return f.persist()
}

func (f *FileStore) ListAssets(_ context.Context, userID string) ([]Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filterAssets(f.data.Assets, userID), nil
}

func (f *FileStore) update(jobID string, fn func(*Job)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.data.Jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	f.data.Jobs[jobID] = job
	return f.persist()
}

func filterAssets(all []Asset, userID string) []Asset {
	out := make([]Asset, 0)
	for _, a := range all {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// hasAsset keeps AddAsset idempotent per job.
func hasAsset(assets []Asset, jobID string) bool {
	for _, a := range assets {
		if a.JobID == jobID {
			return true
		}
	}
	return false
}
