package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/minicloud/minicloud/pkg/metrics"
)

const (
	wsWriteTimeout = 10 * time.Second

	msgTaskNotFound     = "Task not found"
	msgNotRunning       = "Container not running"
	msgStatsUnavailable = "Resource status unavailable"
)

// handleLogStream bridges a task's live log stream onto a websocket.
// The socket always upgrades first so the client gets a readable
// message instead of a bare handshake failure; lookup misses send
// "Task not found", a container without a live stream sends "Container
// not running", and either way the socket closes.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	task, err := s.mgr.GetTask(principal(r), id)
	if err != nil {
		s.wsSend(conn, msgTaskNotFound)
		return
	}

	name := task.ContainerName()
	stream, ok := s.hub.Get(name)
	if !ok || !s.mgr.IsContainerRunning(task) {
		s.wsSend(conn, msgNotRunning)
		return
	}

	sub := stream.Subscribe()
	defer sub.Cancel()
	metrics.LogSubscribers.Inc()
	defer metrics.LogSubscribers.Dec()

	s.logger.Info().
		Int64("task_id", id).
		Str("container", name).
		Msg("log subscriber attached")

	// Reader goroutine: the only way to notice a client disconnect is
	// to keep reading.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, open := <-sub.Frames():
			if !open {
				// Container exited; the stream closed.
				return
			}
			if !s.wsSend(conn, frame) {
				return
			}
		case <-done:
			return
		}
	}
}

// handleResourceStream pushes resource snapshots at the configured
// interval until the client goes away
func (s *Server) handleResourceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		sample, err := s.stats.Sample()
		if err != nil {
			s.logger.Warn().Err(err).Msg("resource sample failed")
			s.wsSend(conn, msgStatsUnavailable)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(sample); err != nil {
			return
		}

		select {
		case <-ticker.C:
		case <-done:
			return
		}
	}
}

// wsSend writes one text message; false means the client is gone
func (s *Server) wsSend(conn *websocket.Conn, msg string) bool {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, []byte(msg)) == nil
}
