package agentmock

import (
	"encoding/json"
	"sync"

	"pkt.systems/pslog"
)

// channelEvent is one entry of a channel's event stream.
type channelEvent struct {
	Seq  uint64
	Data json.RawMessage
}

// channelResponse is the payload of a channel event.
type channelResponse struct {
	ID       uint64 `json:"id"`
	Response string `json:"response"`
	OK       string `json:"ok,omitempty"`
	Err      string `json:"err,omitempty"`
	JSON     any    `json:"json,omitempty"`
}

// channelHub sequences the events of one channel, keeps the unacked history
// for Last-Event-ID replay and fans events out to the open streams.
type channelHub struct {
	mu          sync.Mutex
	seq         uint64
	history     []channelEvent
	historySize int
	subs        map[chan channelEvent]struct{}
	log         pslog.Logger
}

func newChannelHub(historySize int, log pslog.Logger) *channelHub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &channelHub{
		historySize: historySize,
		subs:        make(map[chan channelEvent]struct{}),
		log:         log,
	}
}

func (h *channelHub) subscribe() (<-chan channelEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan channelEvent, 256)
	h.subs[ch] = struct{}{}
	h.log.Debug("agentmock stream subscribe", "subs", len(h.subs))
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// replay returns the retained events after seq.
func (h *channelHub) replay(after uint64) []channelEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := make([]channelEvent, 0, len(h.history))
	for _, event := range h.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	return events
}

// ack drops history up to and including seq.
func (h *channelHub) ack(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	keep := h.history[:0]
	for _, event := range h.history {
		if event.Seq > seq {
			keep = append(keep, event)
		}
	}
	h.history = keep
}

func (h *channelHub) publish(resp channelResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		h.log.Warn("agentmock event encode failed", "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	event := channelEvent{Seq: h.seq, Data: data}
	h.history = append(h.history, event)
	if len(h.history) > h.historySize {
		h.history = h.history[len(h.history)-h.historySize:]
	}
	dropped := 0
	for sub := range h.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.log.Warn("agentmock event dropped", "response", resp.Response, "dropped", dropped)
	}
}

// drop closes every open stream; clients reconnect and replay.
func (h *channelHub) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub)
	}
}

// lineHub fans plain lines out to slog streams.
type lineHub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

func (h *lineHub) subscribe() (<-chan string, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[chan string]struct{})
	}
	ch := make(chan string, 64)
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *lineHub) publish(line string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for sub := range h.subs {
		select {
		case sub <- line:
			sent++
		default:
		}
	}
	return sent
}

func (h *lineHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *lineHub) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub)
	}
}
