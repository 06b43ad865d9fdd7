package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/dnakov/vmcage/internal/errx"
	"github.com/dnakov/vmcage/pkg/wire"
)

// Client is one open control-plane connection to a running sandbox's
// guest daemon. Spawn requests stream their stdout/stderr/exit
// asynchronously on a per-call Events channel. SendStdin, Kill and Resize
// are sent without waiting for a reply; every other request is a
// synchronous round trip against the control channel.
type Client struct {
	conn *wire.Conn

	nextID uint32

	mu      sync.Mutex
	closed  bool
	streams map[uint32]chan Event
	control chan controlFrame
}

type controlFrame struct {
	typ     byte
	payload []byte
}

type idPayload struct {
	ID uint32 `json:"id"`
}

// Dial connects to host:port and completes the inner WebSocket handshake.
func Dial(host string, port int) (*Client, error) {
	nc, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, errx.Wrap(ErrDial, err)
	}
	conn, err := wire.ClientHandshake(nc, fmt.Sprintf("%s:%d", host, port), "/")
	if err != nil {
		_ = nc.Close()
		return nil, errx.Wrap(ErrDial, err)
	}

	c := &Client{
		conn:    conn,
		streams: make(map[uint32]chan Event),
		control: make(chan controlFrame, 8),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the underlying connection and closes every active
// event stream.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	for _, ch := range c.streams {
		close(ch)
	}
	c.streams = nil
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop() {
	for {
		frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			for _, ch := range c.streams {
				close(ch)
			}
			c.streams = nil
			c.closed = true
			c.mu.Unlock()
			close(c.control)
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame wire.Frame) {
	switch frame.Type {
	case wire.TypeStdout, wire.TypeStderr, wire.TypeExit:
		var idp idPayload
		if json.Unmarshal(frame.Payload, &idp) != nil {
			return
		}
		c.mu.Lock()
		ch, ok := c.streams[idp.ID]
		c.mu.Unlock()
		if !ok {
			return
		}
		c.emit(ch, frame)
	case wire.TypeError:
		var idp idPayload
		if json.Unmarshal(frame.Payload, &idp) == nil && idp.ID != 0 {
			c.mu.Lock()
			ch, ok := c.streams[idp.ID]
			c.mu.Unlock()
			if ok {
				c.emit(ch, frame)
				return
			}
		}
		c.control <- controlFrame{typ: frame.Type, payload: frame.Payload}
	default:
		c.control <- controlFrame{typ: frame.Type, payload: frame.Payload}
	}
}

func (c *Client) emit(ch chan Event, frame wire.Frame) {
	switch frame.Type {
	case wire.TypeStdout:
		var r StdoutResponse
		_ = json.Unmarshal(frame.Payload, &r)
		ch <- Event{Kind: EventStdout, Stdout: r.Data}
	case wire.TypeStderr:
		var r StderrResponse
		_ = json.Unmarshal(frame.Payload, &r)
		ch <- Event{Kind: EventStderr, Stderr: r.Data}
	case wire.TypeExit:
		var r ExitResponse
		_ = json.Unmarshal(frame.Payload, &r)
		ch <- Event{Kind: EventExit, Exit: &r}
		c.mu.Lock()
		delete(c.streams, r.ID)
		c.mu.Unlock()
		close(ch)
	case wire.TypeError:
		var r ErrorResponse
		_ = json.Unmarshal(frame.Payload, &r)
		ch <- Event{Kind: EventError, Err: &r}
		c.mu.Lock()
		delete(c.streams, r.ID)
		c.mu.Unlock()
		close(ch)
	}
}

func (c *Client) send(typ byte, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errx.Wrap(ErrEncode, err)
	}
	if err := c.conn.WriteMessage(wire.Frame{Type: typ, Payload: payload}); err != nil {
		return errx.Wrap(ErrSend, err)
	}
	return nil
}

// awaitControl blocks for the next synchronous reply on the control
// channel, surfacing a remote error frame as ErrRemote.
func (c *Client) awaitControl() (controlFrame, error) {
	cf, ok := <-c.control
	if !ok {
		return controlFrame{}, ErrClosed
	}
	if cf.typ == wire.TypeError {
		var r ErrorResponse
		_ = json.Unmarshal(cf.payload, &r)
		return cf, errx.With(ErrRemote, ": code=%d %s", r.Code, r.Message)
	}
	return cf, nil
}

// Spawn starts a process and returns a handle plus its event stream. The
// stream is closed once a terminal exit or error event has been
// delivered.
func (c *Client) Spawn(req SpawnRequest) (*SpawnedResponse, <-chan Event, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	req.ID = id

	ch := make(chan Event, 16)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	c.streams[id] = ch
	c.mu.Unlock()

	if err := c.send(wire.TypeSpawn, req); err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, nil, err
	}

	cf, err := c.awaitControl()
	if err != nil {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, nil, err
	}
	if cf.typ != wire.TypeSpawned {
		c.mu.Lock()
		delete(c.streams, id)
		c.mu.Unlock()
		return nil, nil, errx.With(ErrUnexpectedMsg, ": type=0x%02x", cf.typ)
	}
	var sp SpawnedResponse
	if err := json.Unmarshal(cf.payload, &sp); err != nil {
		return nil, nil, errx.Wrap(ErrUnexpectedMsg, err)
	}
	return &sp, ch, nil
}

// SendStdin writes data to a spawned process's stdin.
func (c *Client) SendStdin(handle string, data string) error {
	return c.send(wire.TypeStdin, StdinRequest{Handle: handle, Data: data})
}

// Kill signals a spawned process.
func (c *Client) Kill(handle string, signal int) error {
	return c.send(wire.TypeKill, KillRequest{Handle: handle, Signal: signal})
}

// Resize updates a PTY's window size.
func (c *Client) Resize(handle string, rows, cols int) error {
	return c.send(wire.TypeResize, ResizeRequest{Handle: handle, Rows: rows, Cols: cols})
}

// InstallBinary uploads a base64-encoded file under /usr/local/bin.
func (c *Client) InstallBinary(name string, data []byte, executable bool) error {
	if err := c.send(wire.TypeBinaryInstall, BinaryInstallRequest{
		Name:       name,
		Data:       encodeBase64(data),
		Executable: executable,
	}); err != nil {
		return err
	}
	_, err := c.awaitControl()
	return err
}

// ReadFile reads an absolute guest path, bounded to 100 MiB server-side.
func (c *Client) ReadFile(path string) ([]byte, error) {
	if err := c.send(wire.TypeFSRead, FSReadRequest{Path: path}); err != nil {
		return nil, err
	}
	cf, err := c.awaitControl()
	if err != nil {
		return nil, err
	}
	if cf.typ != wire.TypeData {
		return nil, errx.With(ErrUnexpectedMsg, ": type=0x%02x", cf.typ)
	}
	var d DataResponse
	if err := json.Unmarshal(cf.payload, &d); err != nil {
		return nil, errx.Wrap(ErrUnexpectedMsg, err)
	}
	return decodeBase64(d.Data)
}

// IsRunning checks whether a handle still refers to a live process.
func (c *Client) IsRunning(handle string) (*RunningStatusResponse, error) {
	if err := c.send(wire.TypeIsRunning, IsRunningRequest{Handle: handle}); err != nil {
		return nil, err
	}
	cf, err := c.awaitControl()
	if err != nil {
		return nil, err
	}
	var r RunningStatusResponse
	if err := json.Unmarshal(cf.payload, &r); err != nil {
		return nil, errx.Wrap(ErrUnexpectedMsg, err)
	}
	return &r, nil
}

// Ping sends a keepalive frame and waits for the matching pong.
func (c *Client) Ping() error {
	if err := c.conn.WriteMessage(wire.Frame{Type: wire.TypePing}); err != nil {
		return errx.Wrap(ErrSend, err)
	}
	cf, err := c.awaitControl()
	if err != nil {
		return err
	}
	if cf.typ != wire.TypePong {
		return errx.With(ErrUnexpectedMsg, ": type=0x%02x", cf.typ)
	}
	return nil
}
