package events

import "time"

// EventType identifies the kind of event emitted during a run.
type EventType string

const (
	EventRunStart      EventType = "run.start"
	EventRunEnd        EventType = "run.end"
	EventTaskStart     EventType = "task.start"
	EventTaskEnd       EventType = "task.end"
	EventNavigate      EventType = "navigate"
	EventAction        EventType = "action"
	EventExpectation   EventType = "expectation"
	EventScreenshot    EventType = "screenshot"
	EventSettleTimeout EventType = "settle.timeout"
	EventNotify        EventType = "notify"
)

// Event represents a single runtime event. Task names the verification
// task the event belongs to; it is empty for run-level events.
type Event struct {
	Type      EventType     `json:"type"`
	Task      string        `json:"task,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Data      any           `json:"data"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// NewEvent creates a new Event with the current timestamp.
func NewEvent(typ EventType, task string, data any) Event {
	return Event{
		Type:      typ,
		Task:      task,
		Timestamp: time.Now(),
		Data:      data,
	}
}
