package logstream

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// Hub fans container log frames out to live subscribers. The worker
// opens one Stream per container and writes every frame it receives
// from the runtime; websocket handlers subscribe by container name.
// Streams are keyed by the deterministic container name, which is what
// makes a task's live logs findable without touching the runtime.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		streams: make(map[string]*Stream),
	}
}

// Open creates the stream for a container, replacing any closed
// leftover under the same name. The returned stream is an io.Writer;
// the worker includes it in its log tee.
func (h *Hub) Open(name string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.streams[name]; ok && !s.isClosed() {
		return s
	}
	s := &Stream{
		hub:  h,
		name: name,
		subs: make(map[*Subscription]bool),
	}
	h.streams[name] = s
	return s
}

// Get returns the live stream for a container name. ok is false when
// no container under that name is streaming.
func (h *Hub) Get(name string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.streams[name]
	if !ok || s.isClosed() {
		return nil, false
	}
	return s, true
}

func (h *Hub) remove(name string, s *Stream) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[name] == s {
		delete(h.streams, name)
	}
}

// Stream carries one container's log frames to its subscribers
type Stream struct {
	hub    *Hub
	name   string
	mu     sync.Mutex
	subs   map[*Subscription]bool
	closed bool
}

// Write forwards one log frame to every subscriber. Frames are
// delivered in write order per subscriber; a subscriber whose buffer
// is full misses the frame rather than stalling the container's log
// pump. Always returns len(p) so the surrounding tee keeps flowing.
func (s *Stream) Write(p []byte) (int, error) {
	frame := scrub(p)
	if frame == "" {
		return len(p), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return len(p), nil
	}
	for sub := range s.subs {
		select {
		case sub.frames <- frame:
		default:
			// Slow subscriber, drop the frame for it
		}
	}
	return len(p), nil
}

// Subscribe attaches a new subscriber to the stream. A closed stream
// yields an immediately-closed subscription.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		frames: make(chan string, 64),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.frames)
		return sub
	}
	s.subs[sub] = true
	return sub
}

// Close ends the stream: every subscriber's channel is closed and the
// stream is removed from the hub. The worker calls this once the
// container has exited.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.frames)
	}
	s.subs = nil
	s.mu.Unlock()

	s.hub.remove(s.name, s)
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscription is one subscriber's view of a stream
type Subscription struct {
	stream *Stream
	frames chan string
	once   sync.Once
}

// Frames returns the frame channel. It is closed when the stream ends
// or the subscription is cancelled.
func (s *Subscription) Frames() <-chan string {
	return s.frames
}

// Cancel detaches the subscriber. Only this subscription ends; the
// stream and its other subscribers are unaffected.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.stream.mu.Lock()
		defer s.stream.mu.Unlock()
		if !s.stream.closed {
			delete(s.stream.subs, s)
			close(s.frames)
		}
	})
}

// scrub renders a raw frame as trimmed UTF-8, replacing invalid bytes
func scrub(p []byte) string {
	var frame string
	if utf8.Valid(p) {
		frame = string(p)
	} else {
		frame = strings.ToValidUTF8(string(p), "�")
	}
	return strings.TrimSpace(frame)
}
