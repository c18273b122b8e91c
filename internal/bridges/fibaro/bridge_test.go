package fibaro

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fibaro-bridge/internal/registry"
	"github.com/nerrad567/fibaro-bridge/internal/state"
)

// testTiming compresses the fixed delays so reconnect and poll cycles
// complete within test timeouts.
func testTiming() Timing {
	return Timing{
		InitialFetchDelay:     10 * time.Millisecond,
		RefreshStartDelay:     20 * time.Millisecond,
		CommandRetryDelay:     20 * time.Millisecond,
		CommandDialRetryDelay: 20 * time.Millisecond,
		RefreshDialRetryDelay: 10 * time.Millisecond,
		RefreshRestartDelay:   20 * time.Millisecond,
		PollTimeout:           500 * time.Millisecond,
		PollRearmDelay:        10 * time.Millisecond,
	}
}

func testRegistryConfig() config.RegistryConfig {
	return config.RegistryConfig{
		MaxRooms:         20,
		MaxLightsPerRoom: 20,
		MaxScenesPerRoom: 20,
		Rooms: []config.RoomConfig{
			{
				Room: 1,
				Name: "Lounge",
				Lights: []config.SlotConfig{
					{Slot: 1, Enabled: true, ID: 10, Name: "Ceiling"},
					{Slot: 2, Enabled: true, ID: 11, Name: "Lamp", Dimmer: true},
				},
				Scenes: []config.SlotConfig{
					{Slot: 1, Enabled: true, ID: 4, Name: "Evening"},
				},
			},
		},
	}
}

// fakeHub is a scripted hub on a local listener. Each accepted
// connection is served in its own goroutine: requests are parsed,
// recorded, and answered by the handler in arrival order, which mirrors
// the real hub's keep-alive pipelining.
type fakeHub struct {
	t       *testing.T
	ln      net.Listener
	handler func(method, path string, body []byte) (status string, respBody []byte)

	mu       sync.Mutex
	requests []fakeRequest
	conns    []net.Conn
	closed   bool
}

type fakeRequest struct {
	Method string
	Path   string
	Body   []byte
}

func newFakeHub(t *testing.T, handler func(method, path string, body []byte) (string, []byte)) *fakeHub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	h := &fakeHub{t: t, ln: ln, handler: handler}
	go h.acceptLoop()
	t.Cleanup(h.close)
	return h
}

func (h *fakeHub) addr() string {
	return h.ln.Addr().String()
}

func (h *fakeHub) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		go h.serve(conn)
	}
}

func (h *fakeHub) serve(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		req, err := readFakeRequest(br)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()

		status, body := h.handler(req.Method, req.Path, req.Body)
		if status == "" {
			// Scripted silence: swallow the request and keep reading.
			continue
		}
		resp := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s",
			status, len(body), body)
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func readFakeRequest(br *bufio.Reader) (fakeRequest, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return fakeRequest{}, err
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		return fakeRequest{}, errors.New("malformed request line")
	}
	req := fakeRequest{Method: parts[0], Path: parts[1]}

	contentLength := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return fakeRequest{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ":"); ok {
			if strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
				contentLength, _ = strconv.Atoi(strings.TrimSpace(value))
			}
		}
	}
	if contentLength > 0 {
		body := make([]byte, contentLength)
		if _, err := io.ReadFull(br, body); err != nil {
			return fakeRequest{}, err
		}
		req.Body = body
	}
	return req, nil
}

// dropConns closes every live connection without closing the listener,
// simulating the hub rebooting.
func (h *fakeHub) dropConns() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (h *fakeHub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	h.ln.Close()
	for _, c := range conns {
		c.Close()
	}
}

func (h *fakeHub) requestCount(match func(fakeRequest) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.requests {
		if match(r) {
			n++
		}
	}
	return n
}

// recordingPublisher captures bridge publications for assertions.
type recordingPublisher struct {
	mu          sync.Mutex
	states      []StateMessage
	scenes      []SceneMessage
	connections []ConnectionMessage
}

func (p *recordingPublisher) PublishState(msg StateMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, msg)
	return nil
}

func (p *recordingPublisher) PublishScene(msg SceneMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scenes = append(p.scenes, msg)
	return nil
}

func (p *recordingPublisher) PublishConnection(msg ConnectionMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections = append(p.connections, msg)
	return nil
}

func (p *recordingPublisher) stateCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, msg := range p.states {
		if msg.Key == key {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) sceneStatuses(key string) []SceneStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SceneStatus
	for _, msg := range p.scenes {
		if msg.Key == key {
			out = append(out, msg.Status)
		}
	}
	return out
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// quietHandler answers device fetches with off devices and keeps the
// refresh cursor parked.
func quietHandler(method, path string, body []byte) (string, []byte) {
	switch {
	case strings.HasPrefix(path, "/api/devices/10") && method == "GET":
		return "200 OK", []byte(`{"id": 10, "properties": {"value": false}}`)
	case strings.HasPrefix(path, "/api/devices/11") && method == "GET":
		return "200 OK", []byte(`{"id": 11, "properties": {"value": "0", "level": 0}}`)
	case strings.HasPrefix(path, "/api/refreshStates"):
		return "200 OK", []byte(`{"last": 100, "changes": []}`)
	case strings.Contains(path, "/action/") || strings.Contains(path, "/execute"):
		return "202 Accepted", []byte(`{}`)
	default:
		return "404 Not Found", []byte(`{}`)
	}
}

func newTestBridge(t *testing.T, hub *fakeHub) (*Bridge, *recordingPublisher, *state.Store) {
	t.Helper()
	reg, err := registry.Build(testRegistryConfig())
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	states := state.NewStore()
	pub := &recordingPublisher{}
	b, err := New(Options{
		Address:   hub.addr(),
		Username:  "admin",
		Password:  "admin",
		Timing:    testTiming(),
		Registry:  reg,
		States:    states,
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, pub, states
}

func TestBridgeSweepPublishesStates(t *testing.T) {
	hub := newFakeHub(t, func(method, path string, body []byte) (string, []byte) {
		switch {
		case path == "/api/devices/10":
			return "200 OK", []byte(`{"id": 10, "properties": {"value": true}}`)
		case path == "/api/devices/11":
			return "200 OK", []byte(`{"id": 11, "properties": {"value": "1", "level": 55}}`)
		case strings.HasPrefix(path, "/api/refreshStates"):
			return "200 OK", []byte(`{"last": 100, "changes": []}`)
		default:
			return "404 Not Found", []byte(`{}`)
		}
	})

	b, pub, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d1, ok1 := states.Get("Room1_Light1")
		d2, ok2 := states.Get("Room1_Light2")
		return ok1 && ok2 && d1.Known && d2.Known
	}, "sweep never landed in the state store")

	d1, _ := states.Get("Room1_Light1")
	if !d1.On {
		t.Errorf("Room1_Light1 derived = %+v, want on", d1)
	}
	d2, _ := states.Get("Room1_Light2")
	if !d2.On || d2.Level != 55 {
		t.Errorf("Room1_Light2 derived = %+v, want on at 55", d2)
	}

	// Sweep publications are unconditional.
	if pub.stateCount("Room1_Light1") == 0 || pub.stateCount("Room1_Light2") == 0 {
		t.Error("sweep should publish every device")
	}
}

func TestBridgeRefreshAppliesChanges(t *testing.T) {
	var refreshMu sync.Mutex
	refreshPolls := 0

	hub := newFakeHub(t, func(method, path string, body []byte) (string, []byte) {
		if strings.HasPrefix(path, "/api/refreshStates") {
			refreshMu.Lock()
			refreshPolls++
			n := refreshPolls
			refreshMu.Unlock()
			switch {
			case !strings.Contains(path, "last="):
				// First poll establishes the cursor.
				return "200 OK", []byte(`{"last": 100, "changes": []}`)
			case n == 2:
				return "200 OK", []byte(`{"last": 101, "changes": [{"id": 10, "value": true}]}`)
			case n == 3:
				// Stale document: cursor moves backwards, must be dropped.
				return "200 OK", []byte(`{"last": 50, "changes": [{"id": 10, "value": false}]}`)
			default:
				return "200 OK", []byte(`{"last": 101, "changes": []}`)
			}
		}
		return quietHandler(method, path, body)
	})

	b, _, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light1")
		return ok && d.On
	}, "refresh change never applied")

	waitUntil(t, 2*time.Second, func() bool {
		return b.GetStats().CursorRegressions >= 1
	}, "stale refresh document never observed")

	// The stale document's change must not have reverted the device.
	d, _ := states.Get("Room1_Light1")
	if !d.On {
		t.Error("stale refresh document reverted the device")
	}

	if cursor := b.GetStats().Cursor; cursor != 101 {
		t.Errorf("cursor = %d, want 101", cursor)
	}
}

func TestBridgeAbsentCursorNotAdopted(t *testing.T) {
	var mu sync.Mutex
	polls := 0

	hub := newFakeHub(t, func(method, path string, body []byte) (string, []byte) {
		if strings.HasPrefix(path, "/api/refreshStates") {
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			if n <= 2 {
				// No sequence marker at all; decodes as zero.
				return "200 OK", []byte(`{"changes": []}`)
			}
			return "200 OK", []byte(`{"last": 100, "changes": []}`)
		}
		return quietHandler(method, path, body)
	})

	b, _, _ := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		return hub.requestCount(func(r fakeRequest) bool {
			return r.Path == "/api/refreshStates?last=100"
		}) >= 1
	}, "real cursor never adopted")

	if cursor := b.GetStats().Cursor; cursor != 100 {
		t.Errorf("cursor = %d, want 100", cursor)
	}

	hub.mu.Lock()
	var refreshPaths []string
	for _, r := range hub.requests {
		if strings.HasPrefix(r.Path, "/api/refreshStates") {
			refreshPaths = append(refreshPaths, r.Path)
		}
	}
	hub.mu.Unlock()

	if len(refreshPaths) < 3 {
		t.Fatalf("refresh polls = %d, want at least 3", len(refreshPaths))
	}
	// Polls before a real cursor arrives carry no last parameter; zero
	// is not a cursor.
	for _, p := range refreshPaths[:2] {
		if p != "/api/refreshStates" {
			t.Errorf("pre-cursor poll path = %q, want bare /api/refreshStates", p)
		}
	}
	last := refreshPaths[len(refreshPaths)-1]
	if last != "/api/refreshStates?last=100" {
		t.Errorf("post-cursor poll path = %q, want ?last=100", last)
	}
}

func TestBridgePollTimeoutRepollsSameCursor(t *testing.T) {
	var mu sync.Mutex
	polls := 0

	hub := newFakeHub(t, func(method, path string, body []byte) (string, []byte) {
		if strings.HasPrefix(path, "/api/refreshStates") {
			mu.Lock()
			polls++
			n := polls
			mu.Unlock()
			switch n {
			case 1:
				return "200 OK", []byte(`{"last": 100, "changes": []}`)
			case 2:
				// Withhold the response; the poll must time out.
				return "", nil
			default:
				return "200 OK", []byte(`{"last": 100, "changes": []}`)
			}
		}
		return quietHandler(method, path, body)
	})

	b, _, _ := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 3*time.Second, func() bool {
		return b.GetStats().PollTimeouts >= 1
	}, "poll never timed out")

	// The re-poll carries the same cursor, not a reset.
	waitUntil(t, 2*time.Second, func() bool {
		return hub.requestCount(func(r fakeRequest) bool {
			return r.Path == "/api/refreshStates?last=100"
		}) >= 2
	}, "timed-out poll never re-polled with the same cursor")

	cmd, ref := b.ChannelStates()
	if cmd != StateConnected || ref != StateConnected {
		t.Errorf("channels after timeout = %s/%s, want connected/connected", cmd, ref)
	}
}

func TestBridgeSnapshotForWrongDeviceDropped(t *testing.T) {
	hub := newFakeHub(t, func(method, path string, body []byte) (string, []byte) {
		if path == "/api/devices/10" && method == "GET" {
			// A body identifying a different device entirely.
			return "200 OK", []byte(`{"id": 99, "properties": {"value": true}}`)
		}
		return quietHandler(method, path, body)
	})

	b, _, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light2")
		return ok && d.Known
	}, "bridge never finished its sweep")

	if d, ok := states.Get("Room1_Light1"); ok && d.Known {
		t.Errorf("mismatched document was attributed: %+v", d)
	}
}

func TestBridgeControl(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, _, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light2")
		return ok && d.Known
	}, "bridge never finished its sweep")

	if err := b.Control("Room1_Light2", ActionSetLevel, 70); err != nil {
		t.Fatalf("Control: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return hub.requestCount(func(r fakeRequest) bool {
			return r.Method == "POST" && r.Path == "/api/devices/11/action/setValue"
		}) == 1
	}, "setValue never reached the hub")

	hub.mu.Lock()
	var actionBody []byte
	for _, r := range hub.requests {
		if r.Path == "/api/devices/11/action/setValue" {
			actionBody = r.Body
		}
	}
	hub.mu.Unlock()
	if string(actionBody) != `{"arg1": 70}` {
		t.Errorf("action body = %q", actionBody)
	}

	// Optimistic update lands before the hub confirms.
	d, _ := states.Get("Room1_Light2")
	if !d.On || d.Level != 70 {
		t.Errorf("optimistic state = %+v, want on at 70", d)
	}
}

func TestBridgeSetLevelOnSwitchReachesHub(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, _, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light1")
		return ok && d.Known
	}, "bridge never finished its sweep")

	// The dimmer flag is advisory; the hub decides what setValue does.
	if err := b.Control("Room1_Light1", ActionSetLevel, 50); err != nil {
		t.Fatalf("Control: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return hub.requestCount(func(r fakeRequest) bool {
			return r.Method == "POST" && r.Path == "/api/devices/10/action/setValue"
		}) == 1
	}, "setValue on switch never reached the hub")
}

func TestBridgeControlErrors(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, _, _ := newTestBridge(t, hub)
	// Not started: the command channel is down.

	if err := b.Control("Room9_Light9", ActionOn, 0); !errors.Is(err, registry.ErrNotRegistered) {
		t.Errorf("unknown key: got %v, want ErrNotRegistered", err)
	}
	if err := b.Control("Room1_Light1", ActionOn, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected: got %v, want ErrNotConnected", err)
	}
	if err := b.Control("Room1_Scene1", ActionOn, 0); err == nil {
		t.Error("scene key should not accept device actions")
	}
}

func TestBridgeSceneActivation(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, pub, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light1")
		return ok && d.Known
	}, "bridge never finished its sweep")

	if err := b.ActivateScene("Room1_Scene1"); err != nil {
		t.Fatalf("ActivateScene: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		return len(pub.sceneStatuses("Room1_Scene1")) >= 2
	}, "scene lifecycle never completed")

	statuses := pub.sceneStatuses("Room1_Scene1")
	if statuses[0] != SceneActivated || statuses[1] != SceneReady {
		t.Errorf("scene statuses = %v, want [activated ready]", statuses)
	}

	if n := hub.requestCount(func(r fakeRequest) bool {
		return r.Method == "POST" && r.Path == "/api/scenes/4/execute"
	}); n != 1 {
		t.Errorf("scene execute sent %d times, want 1", n)
	}
}

func TestBridgeReconnectAfterDrop(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, pub, _ := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		cmd, ref := b.ChannelStates()
		return cmd == StateConnected && ref == StateConnected
	}, "channels never came up")

	hub.dropConns()

	waitUntil(t, 2*time.Second, func() bool {
		return b.GetStats().CommandReconnects >= 2
	}, "command channel never reconnected")

	waitUntil(t, 2*time.Second, func() bool {
		cmd, ref := b.ChannelStates()
		return cmd == StateConnected && ref == StateConnected
	}, "channels never recovered")

	// The reconnect sweep runs again.
	waitUntil(t, 2*time.Second, func() bool {
		return hub.requestCount(func(r fakeRequest) bool {
			return r.Method == "GET" && r.Path == "/api/devices/10"
		}) >= 2
	}, "reconnect sweep never ran")

	// Both channels reported the outage.
	pub.mu.Lock()
	defer pub.mu.Unlock()
	sawCmdDown, sawRefDown := false, false
	for _, msg := range pub.connections {
		if msg.Status == "disconnected" {
			switch msg.Channel {
			case "command":
				sawCmdDown = true
			case "refresh":
				sawRefDown = true
			}
		}
	}
	if !sawCmdDown || !sawRefDown {
		t.Errorf("outage not reported: command=%v refresh=%v", sawCmdDown, sawRefDown)
	}
}

func TestBridgeRefreshAll(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, pub, states := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, func() bool {
		d, ok := states.Get("Room1_Light1")
		return ok && d.Known
	}, "bridge never finished its sweep")

	before := pub.stateCount("Room1_Light1")
	if err := b.RefreshAll(); err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}

	// Forced publications go out even though nothing changed.
	waitUntil(t, 2*time.Second, func() bool {
		return pub.stateCount("Room1_Light1") > before
	}, "forced republish never happened")
}

func TestBridgeCloseIdempotent(t *testing.T) {
	hub := newFakeHub(t, quietHandler)
	b, _, _ := newTestBridge(t, hub)
	b.Start()

	waitUntil(t, 2*time.Second, b.IsConnected, "bridge never connected")

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.IsConnected() {
		t.Error("closed bridge reports connected")
	}
}
