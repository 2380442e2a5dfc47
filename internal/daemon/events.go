// Package daemon implements the unix-socket transport: a long-lived server
// serving one conversation session at a time over newline-delimited JSON,
// and the matching client used by the send command.
package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// Server → client event types.
const (
	EventBanner     = "banner"
	EventResponse   = "response"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventError      = "error"
	EventInfo       = "info"
	EventCancelled  = "cancelled"
	EventDone       = "done"
	EventGoodbye    = "goodbye"
)

// Event is one server → client frame.
type Event struct {
	Type   string         `json:"type"`
	Text   string         `json:"text,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// FrameCancel is the client frame type requesting cancellation.
const FrameCancel = "cancel"

// ClientFrame is one client → server frame: either an ordinary message
// (optionally resuming a stored session) or a cancel request.
type ClientFrame struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Resume  string `json:"resume,omitempty"`
}

// eventWriter serializes events onto one connection. Writes are mutexed so
// the renderer and the lifecycle code can interleave safely.
type eventWriter struct {
	mu  sync.Mutex
	out io.Writer
}

func newEventWriter(out io.Writer) *eventWriter {
	return &eventWriter{out: out}
}

func (w *eventWriter) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}

// readFrames pumps parsed client frames from r until EOF, then closes the
// channel. Blank lines (including staleness probes) and unparseable input
// are skipped.
func readFrames(r io.Reader) <-chan ClientFrame {
	frames := make(chan ClientFrame)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame ClientFrame
			if err := json.Unmarshal(line, &frame); err != nil {
				continue
			}
			frames <- frame
		}
	}()
	return frames
}
