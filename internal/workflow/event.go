package workflow

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Event is one invocation as delivered by the workflow engine.
type Event struct {
	Detail struct {
		Payload *Request `json:"Payload"`
	} `json:"detail"`
	TaskResult struct {
		Payload *State `json:"Payload"`
	} `json:"TaskResult"`
}

// NewEvent wraps a request and the prior state into an event.
func NewEvent(req *Request, prior *State) Event {
	var ev Event
	ev.Detail.Payload = req
	ev.TaskResult.Payload = prior
	return ev
}

// DecodeEvent parses an invocation event.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}
