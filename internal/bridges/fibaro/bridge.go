package fibaro

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fibaro-bridge/internal/registry"
	"github.com/nerrad567/fibaro-bridge/internal/state"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Publisher receives the bridge's outward messages. Implementations fan
// them out to MQTT, history, time series, or stream consumers.
type Publisher interface {
	PublishState(msg StateMessage) error
	PublishScene(msg SceneMessage) error
	PublishConnection(msg ConnectionMessage) error
}

// ChannelState is the lifecycle state of one hub channel.
type ChannelState int

const (
	// StateDisconnected means the channel has no live connection.
	StateDisconnected ChannelState = iota

	// StateConnecting means a dial is in progress.
	StateConnecting

	// StateConnected means the channel is live.
	StateConnected
)

// String returns the state's wire form for status messages.
func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Timing holds the fixed delays driving both channel state machines.
// The hub expects deliberate fixed pacing, never exponential backoff.
type Timing struct {
	InitialFetchDelay     time.Duration
	RefreshStartDelay     time.Duration
	CommandRetryDelay     time.Duration
	CommandDialRetryDelay time.Duration
	RefreshDialRetryDelay time.Duration
	RefreshRestartDelay   time.Duration
	PollTimeout           time.Duration
	PollRearmDelay        time.Duration
}

// DefaultTiming returns the delays the hub was designed around.
func DefaultTiming() Timing {
	return Timing{
		InitialFetchDelay:     1 * time.Second,
		RefreshStartDelay:     2 * time.Second,
		CommandRetryDelay:     5 * time.Second,
		CommandDialRetryDelay: 10 * time.Second,
		RefreshDialRetryDelay: 1 * time.Second,
		RefreshRestartDelay:   3 * time.Second,
		PollTimeout:           30 * time.Second,
		PollRearmDelay:        50 * time.Millisecond,
	}
}

// normalize fills zero fields with defaults so a partially set Timing
// (common in tests) still behaves.
func (t Timing) normalize() Timing {
	def := DefaultTiming()
	if t.InitialFetchDelay == 0 {
		t.InitialFetchDelay = def.InitialFetchDelay
	}
	if t.RefreshStartDelay == 0 {
		t.RefreshStartDelay = def.RefreshStartDelay
	}
	if t.CommandRetryDelay == 0 {
		t.CommandRetryDelay = def.CommandRetryDelay
	}
	if t.CommandDialRetryDelay == 0 {
		t.CommandDialRetryDelay = def.CommandDialRetryDelay
	}
	if t.RefreshDialRetryDelay == 0 {
		t.RefreshDialRetryDelay = def.RefreshDialRetryDelay
	}
	if t.RefreshRestartDelay == 0 {
		t.RefreshRestartDelay = def.RefreshRestartDelay
	}
	if t.PollTimeout == 0 {
		t.PollTimeout = def.PollTimeout
	}
	if t.PollRearmDelay == 0 {
		t.PollRearmDelay = def.PollRearmDelay
	}
	return t
}

// Options configures a Bridge.
type Options struct {
	// Address is the hub's host:port.
	Address string

	// Username and Password are the hub's Basic auth credentials.
	Username string
	Password string

	// Timing overrides the fixed delays. Zero fields take defaults.
	Timing Timing

	// Registry is the configured key map.
	Registry *registry.Registry

	// States is the shared state store.
	States *state.Store

	// Publisher receives outward messages. Optional.
	Publisher Publisher

	// Logger is optional.
	Logger Logger
}

// Stats holds operational statistics.
type Stats struct {
	CommandState      string    `json:"command_state"`
	RefreshState      string    `json:"refresh_state"`
	RequestsTx        uint64    `json:"requests_tx"`
	ResponsesRx       uint64    `json:"responses_rx"`
	ChangesApplied    uint64    `json:"changes_applied"`
	PollCycles        uint64    `json:"poll_cycles"`
	PollTimeouts      uint64    `json:"poll_timeouts"`
	CursorRegressions uint64    `json:"cursor_regressions"`
	ErrorsTotal       uint64    `json:"errors_total"`
	CommandReconnects uint64    `json:"command_reconnects"`
	RefreshReconnects uint64    `json:"refresh_reconnects"`
	Cursor            int64     `json:"cursor"`
	LastActivity      time.Time `json:"last_activity"`
}

// Bridge owns both hub channels and everything that rides them: the
// reconnect state machines, the long-poll cycle, response routing, and
// command dispatch.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Every state machine transition serializes on one mutex; timer
//     callbacks and receive loops re-enter through it.
type Bridge struct {
	opts   Options
	timing Timing
	host   string
	auth   string

	logger Logger

	mu       sync.Mutex
	closed   bool
	cmdState ChannelState
	refState ChannelState
	cmdConn  *hubConn
	refConn  *hubConn

	// Generation counters invalidate receive loops that outlive their
	// connection.
	cmdGen uint64
	refGen uint64

	// cmdPending is the FIFO of in-flight command channel requests.
	cmdPending []pendingRequest

	// Long-poll cursor. Strictly monotonic once set.
	cursor     int64
	haveCursor bool

	// pollInFlight is the single-flight guard for the long-poll cycle.
	pollInFlight bool

	timers *timerSet
	wg     sync.WaitGroup

	// Statistics (atomic for cheap reads)
	requestsTx        atomic.Uint64
	responsesRx       atomic.Uint64
	changesApplied    atomic.Uint64
	pollCycles        atomic.Uint64
	pollTimeouts      atomic.Uint64
	cursorRegressions atomic.Uint64
	errorsTotal       atomic.Uint64
	cmdReconnects     atomic.Uint64
	refReconnects     atomic.Uint64
	lastActivity      atomic.Int64
}

// New creates a Bridge. Registry keys are pre-tracked in the state store
// so reads succeed before the first observation.
func New(opts Options) (*Bridge, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrConnectionFailed)
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("fibaro: registry is required")
	}
	if opts.States == nil {
		return nil, fmt.Errorf("fibaro: state store is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	host := opts.Address
	if h, _, err := net.SplitHostPort(opts.Address); err == nil {
		host = h
	}

	b := &Bridge{
		opts:   opts,
		timing: opts.Timing.normalize(),
		host:   host,
		auth:   basicAuth(opts.Username, opts.Password),
		logger: logger,
		timers: newTimerSet(),
	}

	for _, entry := range opts.Registry.Devices() {
		opts.States.Track(entry.Key)
	}

	return b, nil
}

// SetPublisher installs the outward publisher. Must be called before
// Start. The MQTT link needs the bridge for command dispatch, so the
// publisher fan-out is completed after both exist.
func (b *Bridge) SetPublisher(p Publisher) {
	b.opts.Publisher = p
}

// Start begins connecting to the hub. It returns immediately; the
// command channel dial proceeds in the background and the refresh
// channel follows once the command channel is up.
func (b *Bridge) Start() {
	b.publishConnection("command", StateDisconnected.String())
	b.publishConnection("refresh", StateDisconnected.String())
	go b.dialCommand()
}

// Close shuts the bridge down: stops all timers, closes both channels,
// and waits for the receive loops to exit. Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.cmdConn != nil {
		b.cmdConn.close()
		b.cmdConn = nil
	}
	if b.refConn != nil {
		b.refConn.close()
		b.refConn = nil
	}
	b.cmdState = StateDisconnected
	b.refState = StateDisconnected
	b.mu.Unlock()

	b.timers.stopAll()
	b.wg.Wait()

	b.publishConnection("command", StateDisconnected.String())
	b.publishConnection("refresh", StateDisconnected.String())
	b.logger.Info("bridge closed")
	return nil
}

// IsConnected reports whether the command channel is up.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmdState == StateConnected
}

// ChannelStates returns both channel states.
func (b *Bridge) ChannelStates() (command, refresh ChannelState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmdState, b.refState
}

// GetStats returns current operational statistics.
func (b *Bridge) GetStats() Stats {
	command, refresh := b.ChannelStates()
	b.mu.Lock()
	cursor := b.cursor
	b.mu.Unlock()
	return Stats{
		CommandState:      command.String(),
		RefreshState:      refresh.String(),
		RequestsTx:        b.requestsTx.Load(),
		ResponsesRx:       b.responsesRx.Load(),
		ChangesApplied:    b.changesApplied.Load(),
		PollCycles:        b.pollCycles.Load(),
		PollTimeouts:      b.pollTimeouts.Load(),
		CursorRegressions: b.cursorRegressions.Load(),
		ErrorsTotal:       b.errorsTotal.Load(),
		CommandReconnects: b.cmdReconnects.Load(),
		RefreshReconnects: b.refReconnects.Load(),
		Cursor:            cursor,
		LastActivity:      time.Unix(b.lastActivity.Load(), 0),
	}
}

// dialCommand drives the command channel towards connected.
// On failure it re-arms its own redial timer; on success it schedules
// the initial sweep and the refresh channel start.
func (b *Bridge) dialCommand() {
	b.mu.Lock()
	if b.closed || b.cmdState != StateDisconnected {
		b.mu.Unlock()
		return
	}
	b.cmdState = StateConnecting
	b.mu.Unlock()
	b.publishConnection("command", StateConnecting.String())

	conn, err := dialHub(b.opts.Address)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if conn != nil {
			conn.close()
		}
		return
	}
	if err != nil {
		b.cmdState = StateDisconnected
		b.errorsTotal.Add(1)
		b.timers.arm(timerCommandRedial, b.timing.CommandDialRetryDelay, b.dialCommand)
		b.mu.Unlock()
		b.publishConnection("command", StateDisconnected.String())
		b.logger.Warn("command channel dial failed",
			"address", b.opts.Address, "retry_in", b.timing.CommandDialRetryDelay.String(), "error", err)
		return
	}

	b.cmdConn = conn
	b.cmdGen++
	gen := b.cmdGen
	b.cmdState = StateConnected
	b.cmdPending = nil
	b.cmdReconnects.Add(1)
	b.lastActivity.Store(time.Now().Unix())

	// The hub gets a moment to settle before the sweep, then the refresh
	// channel follows.
	b.timers.arm(timerInitialFetch, b.timing.InitialFetchDelay, func() { b.sweep(gen, true) })
	b.timers.arm(timerRefreshStart, b.timing.RefreshStartDelay, b.dialRefresh)

	b.wg.Add(1)
	b.mu.Unlock()

	b.publishConnection("command", StateConnected.String())
	b.logger.Info("command channel connected", "address", b.opts.Address)

	go b.commandReceiveLoop(conn, gen)
}

// commandReceiveLoop reads framed responses off the command channel and
// hands them to the router. Read timeouts are normal on an idle channel.
func (b *Bridge) commandReceiveLoop(conn *hubConn, gen uint64) {
	defer b.wg.Done()

	for {
		resp, err := conn.read()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				b.mu.Lock()
				stale := b.closed || gen != b.cmdGen
				b.mu.Unlock()
				if stale {
					return
				}
				continue
			}
			b.handleCommandDisconnect(gen, err)
			return
		}
		b.handleCommandResponse(gen, resp)
	}
}

// handleCommandDisconnect runs the command channel's disconnect
// transition: the refresh channel is torn down with it and a fixed-delay
// redial is armed.
func (b *Bridge) handleCommandDisconnect(gen uint64, err error) {
	b.mu.Lock()
	if b.closed || gen != b.cmdGen {
		b.mu.Unlock()
		return
	}
	if b.cmdConn != nil {
		b.cmdConn.close()
		b.cmdConn = nil
	}
	b.cmdState = StateDisconnected
	b.cmdPending = nil
	b.errorsTotal.Add(1)

	refreshWasUp := b.teardownRefreshLocked()

	b.timers.stop(timerInitialFetch)
	b.timers.stop(timerRefreshStart)
	b.timers.arm(timerCommandRedial, b.timing.CommandRetryDelay, b.dialCommand)
	b.mu.Unlock()

	b.publishConnection("command", StateDisconnected.String())
	if refreshWasUp {
		b.publishConnection("refresh", StateDisconnected.String())
	}
	b.logger.Warn("command channel disconnected",
		"retry_in", b.timing.CommandRetryDelay.String(), "error", err)
}

// teardownRefreshLocked stops the refresh channel and its timers.
// Caller holds b.mu. Returns whether the channel was up.
func (b *Bridge) teardownRefreshLocked() bool {
	wasUp := b.refState != StateDisconnected
	if b.refConn != nil {
		b.refConn.close()
		b.refConn = nil
	}
	b.refGen++ // invalidate any live receive loop
	b.refState = StateDisconnected
	b.pollInFlight = false
	b.timers.stop(timerPollTimeout)
	b.timers.stop(timerPollRearm)
	b.timers.stop(timerRefreshRedial)
	b.timers.stop(timerRefreshRestart)
	return wasUp
}

// sweep fetches every registered device over the command channel.
// With force set, the resulting publications are unconditional so
// downstream consumers resynchronise after a reconnect.
func (b *Bridge) sweep(gen uint64, force bool) {
	b.mu.Lock()
	if b.closed || gen != b.cmdGen || b.cmdState != StateConnected {
		b.mu.Unlock()
		return
	}
	conn := b.cmdConn
	devices := b.opts.Registry.Devices()
	for _, entry := range devices {
		b.cmdPending = append(b.cmdPending, pendingRequest{
			kind:  pendingSnapshot,
			key:   entry.Key,
			hubID: entry.HubID,
			force: force,
		})
	}
	b.mu.Unlock()

	b.logger.Info("device sweep started", "devices", len(devices))

	for _, entry := range devices {
		req := buildRequest("GET", deviceFetchPath(entry.HubID), b.host, b.auth, nil)
		if err := conn.send(req); err != nil {
			b.handleCommandDisconnect(gen, err)
			return
		}
		b.requestsTx.Add(1)
	}
}

// publishConnection emits a channel status transition.
func (b *Bridge) publishConnection(channel, status string) {
	if b.opts.Publisher == nil {
		return
	}
	msg := ConnectionMessage{
		Channel:   channel,
		Timestamp: time.Now().UTC(),
		Status:    status,
	}
	if err := b.opts.Publisher.PublishConnection(msg); err != nil {
		b.logger.Error("publish connection status failed", "channel", channel, "error", err)
	}
}

// publishState emits a normalized device state.
func (b *Bridge) publishState(key string, d state.Derived) {
	if b.opts.Publisher == nil {
		return
	}
	if err := b.opts.Publisher.PublishState(NewStateMessage(key, d)); err != nil {
		b.logger.Error("publish state failed", "key", key, "error", err)
	}
}

// publishScene emits a scene lifecycle step.
func (b *Bridge) publishScene(key string, status SceneStatus) {
	if b.opts.Publisher == nil {
		return
	}
	if err := b.opts.Publisher.PublishScene(NewSceneMessage(key, status)); err != nil {
		b.logger.Error("publish scene status failed", "key", key, "error", err)
	}
}
