package fibaro

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"
)

// Channel connection tuning. Dial and write bounds are fixed; read
// pacing belongs to the state machine's timers, so reads use a generous
// rolling deadline that only trips on a genuinely dead socket.
const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readDeadline = 90 * time.Second

	// readBufferSize sizes the response reader. Refresh documents for a
	// busy hub run a few KB; device documents are larger.
	readBufferSize = 32 * 1024
)

// hubConn is one live TCP connection to the hub.
// It carries a single HTTP/1.1 keep-alive stream; responses come back in
// request order, which is what lets the pending queue correlate them.
type hubConn struct {
	conn    net.Conn
	br      *bufio.Reader
	writeMu sync.Mutex
}

// dialHub opens a TCP connection to the hub.
func dialHub(addr string) (*hubConn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	return &hubConn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, readBufferSize),
	}, nil
}

// send writes one serialized request with a write deadline.
// Safe for concurrent use; writes are serialized so pipelined requests
// never interleave.
func (h *hubConn) send(req []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := h.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrRequestFailed, err)
	}
	if _, err := h.conn.Write(req); err != nil {
		return fmt.Errorf("%w: write: %w", ErrRequestFailed, err)
	}
	return nil
}

// read blocks for the next framed response.
// Only the owning receive loop calls read.
func (h *hubConn) read() (*wireResponse, error) {
	if err := h.conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	return readResponse(h.br)
}

// close tears the connection down. Safe to call more than once.
func (h *hubConn) close() {
	h.conn.Close()
}

// pendingKind classifies an outstanding command channel request so the
// router knows how to treat its response.
type pendingKind int

const (
	// pendingSnapshot is a device document fetch.
	pendingSnapshot pendingKind = iota

	// pendingAction is a device action (turnOn/turnOff/setValue).
	pendingAction

	// pendingScene is a scene execution.
	pendingScene
)

// pendingRequest tracks one in-flight command channel request.
// HTTP/1.1 keep-alive returns responses in request order, so a FIFO of
// these is enough to correlate.
type pendingRequest struct {
	kind   pendingKind
	key    string
	hubID  int
	action Action

	// force makes the snapshot's publication unconditional, used by
	// post-reconnect sweeps so downstream consumers resynchronise.
	force bool
}
