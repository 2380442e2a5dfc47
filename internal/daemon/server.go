package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/bastion/internal/agent"
	"github.com/haasonsaas/bastion/internal/audit"
	"github.com/haasonsaas/bastion/internal/sessions"
)

const busyMessage = "Another session is active. Try again when it finishes, or stop the other client."

// staleProbeTimeout bounds the write probe used to detect a dead peer.
const staleProbeTimeout = time.Second

// Server owns the unix-socket listener and the per-connection lifecycle.
// At most one connection is active at a time; the conversation loop and
// the session store are only ever touched from the active session.
type Server struct {
	socketPath    string
	loop          *agent.Loop
	store         *sessions.Store
	audit         *audit.Logger
	metricsListen string
	log           *slog.Logger

	mu sync.Mutex
	// active is the connection currently owning the session slot;
	// activeDone closes once its handler has fully returned, so a
	// takeover never touches the loop while the old turn is in flight.
	active     net.Conn
	activeDone chan struct{}
}

// ServerOptions configures a Server.
type ServerOptions struct {
	SocketPath    string
	Loop          *agent.Loop
	Store         *sessions.Store
	Audit         *audit.Logger
	MetricsListen string
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		socketPath:    opts.SocketPath,
		loop:          opts.Loop,
		store:         opts.Store,
		audit:         opts.Audit,
		metricsListen: opts.MetricsListen,
		log:           slog.Default().With("component", "daemon"),
	}
}

// Serve listens on the socket until ctx is done. Any stale socket file is
// removed first; the socket mode is rw for owner and group only.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o750); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	if s.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: s.metricsListen, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics listener failed", "addr", s.metricsListen, "error", err)
			}
		}()
		defer metricsSrv.Close()
		s.log.Info("metrics endpoint enabled", "addr", s.metricsListen)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.log.Info("daemon listening", "socket", s.socketPath)
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !s.claim(conn) {
			go rejectBusy(conn)
			continue
		}
		go func() {
			s.handleSession(ctx, conn)
			s.release(conn)
		}()
	}
}

// claim makes conn the active connection. A previously active connection
// blocks the claim unless it is detectably stale: a newline probe-write
// fails immediately once the peer has closed its end. A stale peer's
// handler may still be finishing an in-flight tool (cancel is
// checkpoint-based), so the claim waits for it to return before taking
// the slot — the conversation loop is shared state and must never be
// touched by two sessions at once.
func (s *Server) claim(conn net.Conn) bool {
	for {
		s.mu.Lock()
		if s.active == nil {
			s.active = conn
			s.activeDone = make(chan struct{})
			s.mu.Unlock()
			return true
		}
		active := s.active
		done := s.activeDone
		active.SetWriteDeadline(time.Now().Add(staleProbeTimeout))
		_, err := active.Write([]byte("\n"))
		active.SetWriteDeadline(time.Time{})
		s.mu.Unlock()

		if err == nil {
			return false
		}
		s.log.Info("replacing stale session connection")
		// Closing the socket makes the old handler's reader hit EOF,
		// which fires its cancel signal; its turn winds down at the
		// next checkpoint and release closes done.
		active.Close()
		<-done
	}
}

func (s *Server) release(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == conn {
		s.active = nil
		close(s.activeDone)
		s.activeDone = nil
	}
}

func rejectBusy(conn net.Conn) {
	defer conn.Close()
	w := newEventWriter(conn)
	w.send(Event{Type: EventError, Text: busyMessage})
	w.send(Event{Type: EventDone})
}

// handleSession runs one conversation session over conn: banner, message
// loop, per-message save, cancel monitoring.
func (s *Server) handleSession(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	w := newEventWriter(conn)
	frames := readFrames(conn)

	sessionID := sessions.NewID()
	s.loop.Reset()
	s.loop.SetCancel(nil)
	s.loop.SetRenderer(newEventRenderer(w))

	// A resume frame rebinds sessionID, so the deferred calls must read
	// it at return time, not at defer time. Session bracketing starts
	// once the ID is final (after any resume on the first message).
	started := false
	defer func() {
		s.saveIfDirty(sessionID)
		if started {
			s.audit.SessionEnd(sessionID)
		}
	}()

	w.send(Event{Type: EventBanner, Text: "bastion agent ready. /quit to end the session."})

	first := true
	var pending []ClientFrame
	for {
		var frame ClientFrame
		if len(pending) > 0 {
			frame, pending = pending[0], pending[1:]
		} else {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					s.log.Info("client disconnected", "session", sessionID)
					return
				}
				frame = f
			}
		}

		if frame.Type == FrameCancel {
			// Nothing in flight; acknowledge and move on.
			w.send(Event{Type: EventInfo, Text: "Nothing to cancel."})
			continue
		}
		text := strings.TrimSpace(frame.Message)
		if text == "" {
			continue
		}

		if first {
			first = false
			if frame.Resume != "" {
				session, err := s.store.Load(frame.Resume)
				if err != nil {
					w.send(Event{Type: EventError, Text: fmt.Sprintf("Cannot resume: %v", err)})
					w.send(Event{Type: EventDone})
					continue
				}
				sessionID = session.ID
				s.loop.RestoreMessages(session.Messages)
				w.send(Event{Type: EventInfo, Text: fmt.Sprintf("Resumed session %s (%d messages)", session.ID, len(session.Messages))})
			}
		}
		if !started {
			started = true
			s.audit.SessionStart(sessionID)
		}

		if text == "/quit" || text == "/exit" {
			w.send(Event{Type: EventGoodbye})
			return
		}

		cancelled := s.processWithMonitor(ctx, w, frames, &pending, text)
		s.saveIfDirty(sessionID)
		if cancelled {
			w.send(Event{Type: EventCancelled, Text: "Operation cancelled."})
		}
		if err := w.send(Event{Type: EventDone}); err != nil {
			return
		}
	}
}

// processWithMonitor runs one message through the loop while a background
// monitor watches the socket: an explicit cancel frame or EOF (disconnect
// mid-compute) fires the cancel signal. Ordinary frames arriving during
// processing are queued for the next loop pass. Returns whether the turn
// was cancelled.
func (s *Server) processWithMonitor(ctx context.Context, w *eventWriter, frames <-chan ClientFrame, pending *[]ClientFrame, text string) bool {
	cancelCh := make(chan struct{})
	var once sync.Once
	fire := func() { once.Do(func() { close(cancelCh) }) }

	done := make(chan struct{})
	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		for {
			select {
			case <-done:
				return
			case frame, ok := <-frames:
				if !ok {
					fire()
					return
				}
				if frame.Type == FrameCancel {
					s.log.Info("cancel requested")
					w.send(Event{Type: EventInfo, Text: "Cancelling..."})
					fire()
					continue
				}
				*pending = append(*pending, frame)
			}
		}
	}()

	s.loop.SetCancel(cancelCh)
	err := s.loop.ProcessMessage(ctx, text)
	s.loop.SetCancel(nil)
	close(done)
	monitorWG.Wait()

	if err != nil && errors.Is(err, agent.ErrCancelled) {
		return true
	}
	if err != nil {
		w.send(Event{Type: EventError, Text: err.Error()})
	}
	return false
}

func (s *Server) saveIfDirty(sessionID string) {
	messages := s.loop.Messages()
	if len(messages) == 0 {
		return
	}
	if err := s.store.Save(sessionID, messages); err != nil {
		s.log.Error("session save failed", "session", sessionID, "error", err)
	}
}

// eventRenderer adapts the wire protocol to the conversation loop's
// renderer interface.
type eventRenderer struct {
	w *eventWriter
}

// newEventRenderer returns a renderer that emits protocol events on w.
func newEventRenderer(w *eventWriter) agent.Renderer { return &eventRenderer{w: w} }

func (r *eventRenderer) Response(text string) { r.w.send(Event{Type: EventResponse, Text: text}) }
func (r *eventRenderer) Thought(text string)  { r.w.send(Event{Type: EventResponse, Text: text}) }
func (r *eventRenderer) ToolCall(tool string, input map[string]any) {
	r.w.send(Event{Type: EventToolCall, Tool: tool, Input: input})
}
func (r *eventRenderer) ToolResult(tool string, result map[string]any) {
	r.w.send(Event{Type: EventToolResult, Tool: tool, Result: result})
}
func (r *eventRenderer) Error(text string) { r.w.send(Event{Type: EventError, Text: text}) }
func (r *eventRenderer) Info(text string)  { r.w.send(Event{Type: EventInfo, Text: text}) }
func (r *eventRenderer) Prompt()           {}
