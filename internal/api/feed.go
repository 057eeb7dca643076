package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/bitlens/internal/bitrate"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/session"
	"github.com/zsiec/bitlens/internal/wire"
)

const writeWait = 5 * time.Second

// feedMessage is the JSON form of a feed frame.
type feedMessage struct {
	Type     string            `json:"type"`
	Event    *session.Event    `json:"event,omitempty"`
	Stream   int               `json:"stream"`
	Segments []bitrate.Segment `json:"segments,omitempty"`
}

// feed pushes the changes of one session to one WebSocket client. Each
// client polls the controller on its own, so any number of clients can
// follow a session without competing for its event channel.
type feed struct {
	conn     *websocket.Conn
	ctl      *session.Controller
	log      *slog.Logger
	binary   bool
	interval time.Duration
	done     chan struct{}

	model   *model.Model
	tracker *bitrate.Tracker
	rows    int
	percent int
	info    int64
}

// Feed handles GET /api/sessions/{id}/feed. Frames are JSON text messages,
// or wire frames in binary messages with ?binary=1.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "id", s.ID, "error", err)
		return
	}
	f := &feed{
		conn:     conn,
		ctl:      s.Controller,
		log:      h.log.With("id", s.ID),
		binary:   r.URL.Query().Get("binary") == "1",
		interval: h.feedInterval,
		done:     make(chan struct{}),
		tracker:  bitrate.NewTracker(),
		rows:     -1,
		percent:  -1,
	}
	go f.readLoop()
	f.writeLoop()
}

// readLoop discards client messages and notices when the client goes away.
func (f *feed) readLoop() {
	defer close(f.done)
	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *feed) writeLoop() {
	defer f.conn.Close()
	tick := time.NewTicker(f.interval)
	defer tick.Stop()

	for {
		finished, err := f.poll()
		if err != nil {
			f.log.Debug("feed write failed", "error", err)
			return
		}
		if finished {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
			f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
		select {
		case <-tick.C:
		case <-f.ctl.Done():
			if !f.ctl.State().Terminal() {
				// Closed before it ever ran.
				return
			}
		case <-f.done:
			return
		}
	}
}

// poll sends everything that changed since the previous poll. State is read
// first: a terminal state guarantees the model and segments are final, so
// the rest of the poll sees the complete session. A new model means the
// session was restarted, and the client is sent the new run from the start.
func (f *feed) poll() (bool, error) {
	m := f.ctl.Model()
	state := f.ctl.State()
	if f.ctl.Model() != m {
		// Restarted between the two reads; the next poll sees the new run.
		return false, nil
	}
	if m != f.model {
		if f.model != nil {
			f.log.Debug("session restarted, resending")
		}
		f.model = m
		f.tracker.Reset()
		f.rows, f.percent, f.info = -1, -1, 0
	}

	if rows := m.RowCount(); rows != f.rows {
		f.rows = rows
		if err := f.sendEvent(session.Event{Kind: session.ModelUpdated, Rows: rows}); err != nil {
			return false, err
		}
	}
	if pct := f.ctl.ProgressPercent(); pct != f.percent {
		f.percent = pct
		if err := f.sendEvent(session.Event{Kind: session.Progress, Percent: pct}); err != nil {
			return false, err
		}
	}
	if v := f.ctl.InfoVersion(); v != f.info {
		f.info = v
		if err := f.sendEvent(session.Event{Kind: session.StreamInfoUpdated}); err != nil {
			return false, err
		}
	}
	agg := f.ctl.Aggregator()
	for _, stream := range agg.Streams() {
		segs := f.tracker.Poll(agg, stream)
		if len(segs) == 0 {
			continue
		}
		if err := f.sendSegments(stream, segs); err != nil {
			return false, err
		}
		ev := session.Event{Kind: session.SegmentsUpdated, Stream: stream, Count: f.tracker.Added(stream)}
		if err := f.sendEvent(ev); err != nil {
			return false, err
		}
	}

	if !state.Terminal() {
		return false, nil
	}
	return true, f.sendEvent(session.Event{Kind: session.Finished, State: state})
}

func (f *feed) sendEvent(ev session.Event) error {
	if f.binary {
		return f.write(websocket.BinaryMessage, wire.EncodeEvent(ev))
	}
	return f.writeJSON(feedMessage{Type: "event", Event: &ev, Stream: ev.Stream})
}

func (f *feed) sendSegments(stream int, segs []bitrate.Segment) error {
	if f.binary {
		return f.write(websocket.BinaryMessage, wire.EncodeSegments(stream, segs))
	}
	return f.writeJSON(feedMessage{Type: "segments", Stream: stream, Segments: segs})
}

func (f *feed) write(kind int, data []byte) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteMessage(kind, data)
}

func (f *feed) writeJSON(msg feedMessage) error {
	f.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return f.conn.WriteJSON(msg)
}
