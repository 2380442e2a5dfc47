package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/haasonsaas/bastion/internal/agent"
)

const dialTimeout = 5 * time.Second

// Client is the socket peer used by the send command.
type Client struct {
	conn net.Conn
	mu   sync.Mutex
	in   *bufio.Scanner
}

// Dial connects to a running daemon.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon at %s: %w (is the daemon running?)", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, in: scanner}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Send writes one frame.
func (c *Client) Send(frame ClientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// Cancel requests cancellation of the in-flight operation. Safe to call
// from a signal handler goroutine while ReadEvent blocks.
func (c *Client) Cancel() error {
	return c.Send(ClientFrame{Type: FrameCancel})
}

// ReadEvent returns the next server event. Blank lines (staleness probes)
// are skipped. io.EOF reports an orderly close.
func (c *Client) ReadEvent() (*Event, error) {
	for c.in.Scan() {
		line := bytes.TrimSpace(c.in.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("malformed event %q: %w", line, err)
		}
		return &ev, nil
	}
	if err := c.in.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// RenderUntilDone reads and renders events until the server signals the
// end of the turn. Returns true when the server said goodbye (session
// over) rather than done (turn over).
func (c *Client) RenderUntilDone(r agent.Renderer) (goodbye bool, err error) {
	for {
		ev, err := c.ReadEvent()
		if err != nil {
			return false, err
		}
		switch ev.Type {
		case EventDone:
			return false, nil
		case EventGoodbye:
			r.Info("Session ended.")
			return true, nil
		case EventBanner, EventInfo:
			r.Info(ev.Text)
		case EventResponse:
			r.Response(ev.Text)
		case EventToolCall:
			r.ToolCall(ev.Tool, ev.Input)
		case EventToolResult:
			r.ToolResult(ev.Tool, ev.Result)
		case EventError:
			r.Error(ev.Text)
		case EventCancelled:
			r.Info(ev.Text)
		}
	}
}
