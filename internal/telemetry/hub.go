package telemetry

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// defaultHistory bounds the hub when no limit is given.
const defaultHistory = 4096

// Event is one entry of the hub history: either a sweep point or a sync
// iteration.
type Event struct {
	Kind  string         `json:"kind"`
	Point *Point         `json:"point,omitempty"`
	Sync  *SyncIteration `json:"sync,omitempty"`
}

// Hub collects history and fans out telemetry updates to subscribers.
type Hub struct {
	mu          sync.RWMutex
	history     []Event
	limit       int
	subscribers map[chan Event]struct{}
	progress    map[string]Progress
	lastSync    *SyncIteration
}

// Progress is how far one named sweep has got.
type Progress struct {
	Sweep   string    `json:"sweep"`
	Done    int       `json:"done"`
	Total   int       `json:"total"`
	Channel int       `json:"channel"`
	Updated time.Time `json:"updated"`
}

// Status is the snapshot served on /api/progress.
type Status struct {
	Sweeps []Progress     `json:"sweeps"`
	Sync   *SyncIteration `json:"sync,omitempty"`
}

// NewHub builds a hub keeping at most limit events. A non-positive limit
// selects the default.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistory
	}
	return &Hub{
		limit:       limit,
		subscribers: make(map[chan Event]struct{}),
		progress:    make(map[string]Progress),
	}
}

// ReportPoint implements Reporter.
func (h *Hub) ReportPoint(p Point) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	h.mu.Lock()
	h.progress[p.Sweep] = Progress{Sweep: p.Sweep, Done: p.Index + 1, Total: p.Total, Channel: p.Channel, Updated: p.Timestamp}
	h.mu.Unlock()
	h.publish(Event{Kind: "point", Point: &p})
}

// ReportSync implements Reporter.
func (h *Hub) ReportSync(it SyncIteration) {
	if it.Timestamp.IsZero() {
		it.Timestamp = time.Now()
	}
	h.mu.Lock()
	last := it
	h.lastSync = &last
	h.mu.Unlock()
	h.publish(Event{Kind: "sync", Sync: &it})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = h.history[len(h.history)-h.limit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry events.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// Status returns the progress of every sweep seen so far, ordered by name,
// and the latest sync iteration.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Status{Sweeps: make([]Progress, 0, len(h.progress))}
	for _, p := range h.progress {
		st.Sweeps = append(st.Sweeps, p)
	}
	sort.Slice(st.Sweeps, func(i, j int) bool { return st.Sweeps[i].Sweep < st.Sweeps[j].Sweep })
	if h.lastSync != nil {
		last := *h.lastSync
		st.Sync = &last
	}
	return st
}

// Subscribe registers a listener for live updates.
func (h *Hub) Subscribe() (chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		close(ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// handleHistory serves the stored events, optionally only those of ?kind=.
func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	events := h.History()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		kept := events[:0]
		for _, ev := range events {
			if ev.Kind == kind {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	writeJSON(w, events)
}

func (h *Hub) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	payload, _ := json.Marshal(ev)
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// replay history so a late client sees the whole sweep
	for _, ev := range h.History() {
		writeEvent(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
