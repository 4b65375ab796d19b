package council

// EventType discriminates the events emitted while a turn runs.
type EventType string

const (
	EventStage1Start    EventType = "stage1_start"
	EventStage1Complete EventType = "stage1_complete"
	EventStage2Start    EventType = "stage2_start"
	EventStage2Complete EventType = "stage2_complete"
	EventStage3Start    EventType = "stage3_start"
	EventStage3Complete EventType = "stage3_complete"
	EventTitleComplete  EventType = "title_complete"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Event is one entry in the ordered, append-only progress sequence for a
// turn. Events are emitted strictly in state-machine transition order; a
// stage's start event always precedes its complete event, and no later
// stage's event precedes the prior stage's completion.
type Event struct {
	Type EventType `json:"type"`
	// Data carries the stage payload for *_complete events.
	Data any `json:"data,omitempty"`
	// Metadata carries stage-level extras such as the aggregate ranking.
	Metadata any `json:"metadata,omitempty"`
	// Message carries the human-readable text for error events.
	Message string `json:"message,omitempty"`
}

// EventSink receives turn events in emission order. There is no resume or
// replay: a sink that stops consuming simply misses the remainder while the
// turn runs to completion server-side. A nil sink discards events.
//
// Sinks are called from the orchestrator goroutine and must not block
// indefinitely.
type EventSink func(Event)

// emit sends an event to the sink, tolerating a nil sink.
func emit(sink EventSink, ev Event) {
	if sink != nil {
		sink(ev)
	}
}
