package session

// EventKind identifies what changed.
type EventKind uint8

const (
	ModelUpdated EventKind = iota + 1
	SegmentsUpdated
	StreamInfoUpdated
	Progress
	Finished
)

var eventNames = map[EventKind]string{
	ModelUpdated:      "model",
	SegmentsUpdated:   "segments",
	StreamInfoUpdated: "info",
	Progress:          "progress",
	Finished:          "finished",
}

func (k EventKind) String() string {
	if n, ok := eventNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is a change notification. Only the fields of its Kind are set:
// Rows for ModelUpdated, Stream and Count for SegmentsUpdated, Percent for
// Progress and State for Finished.
type Event struct {
	Kind    EventKind `json:"kind"`
	Rows    int       `json:"rows,omitempty"`
	Stream  int       `json:"stream"`
	Count   int       `json:"count,omitempty"`
	Percent int       `json:"percent,omitempty"`
	State   State     `json:"state,omitempty"`
}

// emit delivers ev without blocking; events are dropped when the consumer
// falls behind. The current values stay available through the query methods.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.dropped.Add(1)
	}
}
