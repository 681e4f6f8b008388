package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/workspace"
)

var (
	// ErrTransport wraps every failure to reach or talk to the execution
	// backend.
	ErrTransport = errors.New("transport error")

	// ErrInputUnsupported is returned by SendInput during a one-shot run,
	// whose input is fixed when the run starts.
	ErrInputUnsupported = errors.New("interactive input not supported by one-shot runs")

	// ErrNoEntry is returned by Run when the workspace has no entry file.
	ErrNoEntry = errors.New("workspace has no entry file")
)

// Request is what a run executes.
type Request struct {
	Snapshot workspace.Snapshot
	// Input is stdin supplied up front. Only one-shot runs use it.
	Input string
}

// Transport opens connections to an execution backend.
type Transport interface {
	Mode() Mode
	// Open connects and submits req. It returns once the backend has
	// accepted the run.
	Open(ctx context.Context, req Request) (Conn, error)
}

// Conn is one open execution channel. Recv is called from a single
// goroutine; SendInput and Close may be called concurrently with it.
type Conn interface {
	// Recv returns the next server frame. Errors wrapping
	// protocol.ErrMalformedFrame are recoverable; any other error ends the
	// connection.
	Recv() (protocol.Frame, error)
	SendInput(text string) error
	// Close is idempotent.
	Close() error
}

const closeGrace = time.Second

// StreamTransport runs workspaces over the duplex websocket endpoint.
type StreamTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewStreamTransport targets the /ws endpoint of the backend at baseURL.
// http and https schemes are mapped to ws and wss.
func NewStreamTransport(baseURL string) (*StreamTransport, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return &StreamTransport{URL: u.String(), Dialer: websocket.DefaultDialer}, nil
}

func (t *StreamTransport) Mode() Mode { return ModeStream }

func (t *StreamTransport) Open(ctx context.Context, req Request) (Conn, error) {
	ws, resp, err := t.Dialer.DialContext(ctx, t.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrTransport, t.URL, err)
	}

	c := &streamConn{ws: ws}
	if err := c.write(protocol.StartFrame(req.Snapshot)); err != nil {
		ws.Close()
		return nil, err
	}
	return c, nil
}

type streamConn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *streamConn) Recv() (protocol.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return protocol.DecodeServerFrame(data)
}

func (c *streamConn) SendInput(text string) error {
	return c.write(protocol.StdinFrame(text))
}

func (c *streamConn) write(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: sending %s frame: %v", ErrTransport, f.Type, err)
	}
	return nil
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = c.ws.Close()
	})
	return err
}

// OneShotTransport runs workspaces through the request/response /run
// endpoint. The whole run happens inside Open.
type OneShotTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewOneShotTransport targets the backend at baseURL. A nil client uses
// http.DefaultClient.
func NewOneShotTransport(baseURL string, client *http.Client) *OneShotTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &OneShotTransport{BaseURL: strings.TrimRight(baseURL, "/"), Client: client}
}

func (t *OneShotTransport) Mode() Mode { return ModeOneShot }

func (t *OneShotTransport) Open(ctx context.Context, req Request) (Conn, error) {
	body, err := json.Marshal(protocol.RunRequest{
		Files:     req.Snapshot.Files,
		Input:     req.Input,
		EntryFile: req.Snapshot.EntryFile,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e protocol.ErrorResponse
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrTransport, resp.StatusCode, e.Error)
	}

	var out protocol.RunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding run response: %v", ErrTransport, err)
	}

	var frames []protocol.Frame
	if out.Stdout != "" {
		frames = append(frames, protocol.OutputFrame(protocol.TypeStdout, out.Stdout))
	}
	if out.Stderr != "" {
		frames = append(frames, protocol.OutputFrame(protocol.TypeStderr, out.Stderr))
	}
	frames = append(frames, protocol.ExitFrame(out.ExitCode))
	return &replayConn{frames: frames}, nil
}

// replayConn hands back frames that were already received in full.
type replayConn struct {
	mu     sync.Mutex
	frames []protocol.Frame
	closed bool
}

func (c *replayConn) Recv() (protocol.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(c.frames) == 0 {
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrTransport, io.EOF)
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f, nil
}

func (c *replayConn) SendInput(string) error { return ErrInputUnsupported }

func (c *replayConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
