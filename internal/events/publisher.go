// Package events publishes the notarization request that hands a minted
// asset over to the snapshot workflow.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DetailTypeSnapshot is the detail type of notarization requests.
const DetailTypeSnapshot = "snapshot"

// Event is one message on an event bus.
type Event struct {
	ID         string          `json:"id"`
	Bus        string          `json:"bus"`
	Source     string          `json:"source"`
	DetailType string          `json:"detailType"`
	Detail     json.RawMessage `json:"detail"`
	Time       time.Time       `json:"time"`
}

// Publisher puts events on a bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// SnapshotBus names the bus notarization requests go to.
func SnapshotBus(environment string) string {
	return environment + "-bws-api-solutions-snapshot-eventbus"
}

// NewSnapshotRequest builds the notarization request for a job. The event
// id is derived from the job so a republished request carries the same id.
func NewSnapshotRequest(environment, solution, jobID string) (Event, error) {
	detail, err := json.Marshal(map[string]string{"jobId": jobID})
	if err != nil {
		return Event{}, fmt.Errorf("encode snapshot detail: %w", err)
	}
	return Event{
		ID:         snapshotEventID(environment, solution, jobID),
		Bus:        SnapshotBus(environment),
		Source:     solution,
		DetailType: DetailTypeSnapshot,
		Detail:     detail,
		Time:       time.Now().UTC(),
	}, nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev Event) error {
	log.Info().
		Str("eventId", ev.ID).
		Str("bus", ev.Bus).
		Str("source", ev.Source).
		Str("detailType", ev.DetailType).
		RawJSON("detail", ev.Detail).
		Msg("event published")
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	Err    error
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of what was published.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func snapshotEventID(environment, solution, jobID string) string {
	name := strings.Join([]string{environment, solution, jobID, DetailTypeSnapshot}, "/")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
