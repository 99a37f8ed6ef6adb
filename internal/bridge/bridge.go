// Package bridge composes the connection server, timing monitor, and channel
// state store behind one facade.
//
// The bridge is the single surface consumers touch: typed subscriber
// registration for lifecycle, frame, issue, and event callbacks, plus
// non-blocking read accessors over the synchronized state. Callbacks run on
// the network goroutine and must not block.
package bridge

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/telemetry-sync/tsc/internal/config"
	"github.com/telemetry-sync/tsc/internal/protocol"
	"github.com/telemetry-sync/tsc/internal/server"
	"github.com/telemetry-sync/tsc/internal/store"
	"github.com/telemetry-sync/tsc/internal/timing"
)

// GameEvent is a one-shot notification forwarded straight to subscribers; it
// never enters the channel store.
type GameEvent struct {
	Type  string
	Frame int64
	Data  json.RawMessage
}

// CommandResult correlates to a previously sent outbound command.
type CommandResult struct {
	Command string
	Success bool
	Frame   int64
	Result  json.RawMessage
	Error   string
}

// Bridge wires socket bytes through codec, envelope parsing, anomaly
// detection, and state storage, and fans the results out to subscribers.
type Bridge struct {
	cfg     *config.Config
	log     zerolog.Logger
	server  *server.Server
	monitor *timing.Monitor
	store   *store.Store

	mu               sync.RWMutex
	connectedFns     []func(addr string)
	disconnectedFns  []func()
	frameFns         []func(frame int64, payloads map[string]json.RawMessage)
	messageFns       []func(env *protocol.Envelope)
	issueFns         []func(issue timing.Issue)
	eventFns         map[string][]func(ev GameEvent)
	commandResultFns []func(res CommandResult)
}

// New builds a stopped bridge from cfg. Call Start to begin listening.
func New(cfg *config.Config, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:      cfg,
		log:      logger,
		monitor:  timing.NewMonitor(cfg.FrameJumpThreshold, cfg.StaleMultiplier, logger),
		store:    store.New(cfg.HistoryCapacity),
		eventFns: make(map[string][]func(ev GameEvent)),
	}
	b.server = server.New(cfg, b, logger)
	return b
}

// Start binds the listening socket. The returned error is the only fatal
// condition in the module.
func (b *Bridge) Start() error {
	return b.server.Start()
}

// Stop tears down sockets and worker goroutines. Idempotent. Stored channel
// state survives until the process exits.
func (b *Bridge) Stop() {
	b.server.Stop()
}

// SendCommand writes an outbound command frame to the connected producer.
// It returns false when no producer is connected; callers must check it.
func (b *Bridge) SendCommand(name string, args map[string]any) bool {
	return b.server.Send(protocol.NewCommandFrame(name, args))
}

// OnConnected registers fn for peer-connected events.
func (b *Bridge) OnConnected(fn func(addr string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectedFns = append(b.connectedFns, fn)
}

// OnDisconnected registers fn for peer-lost events.
func (b *Bridge) OnDisconnected(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectedFns = append(b.disconnectedFns, fn)
}

// OnFrame registers fn for every DATA/FULL envelope after its payloads have
// been stored. payloads holds only the channels present in that envelope.
func (b *Bridge) OnFrame(fn func(frame int64, payloads map[string]json.RawMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameFns = append(b.frameFns, fn)
}

// OnMessage registers fn for every parsed envelope of any kind.
func (b *Bridge) OnMessage(fn func(env *protocol.Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageFns = append(b.messageFns, fn)
}

// OnIssue registers fn for timing anomalies.
func (b *Bridge) OnIssue(fn func(issue timing.Issue)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issueFns = append(b.issueFns, fn)
}

// OnGameEvent registers fn for EVENT envelopes of the given type. The empty
// string subscribes to every event type.
func (b *Bridge) OnGameEvent(eventType string, fn func(ev GameEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eventFns[eventType] = append(b.eventFns[eventType], fn)
}

// OnCommandResult registers fn for COMMAND_RESULT envelopes.
func (b *Bridge) OnCommandResult(fn func(res CommandResult)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commandResultFns = append(b.commandResultFns, fn)
}

// HandleConnected implements server.Handler. Watermarks reset here so the
// first envelopes of a fresh session are never compared against the previous
// session's counters.
func (b *Bridge) HandleConnected(addr string) {
	b.monitor.Reset()

	b.mu.RLock()
	fns := slices.Clone(b.connectedFns)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(addr)
	}
}

// HandleDisconnected implements server.Handler.
func (b *Bridge) HandleDisconnected() {
	b.mu.RLock()
	fns := slices.Clone(b.disconnectedFns)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// HandleEnvelope implements server.Handler: monitor every envelope, store
// DATA/FULL payloads, and forward EVENT/COMMAND_RESULT straight to
// subscribers.
func (b *Bridge) HandleEnvelope(env *protocol.Envelope) {
	b.mu.RLock()
	messageFns := slices.Clone(b.messageFns)
	issueFns := slices.Clone(b.issueFns)
	b.mu.RUnlock()

	for _, fn := range messageFns {
		fn(env)
	}

	for _, issue := range b.monitor.Check(env) {
		for _, fn := range issueFns {
			fn(issue)
		}
	}

	switch env.Kind {
	case protocol.KindData, protocol.KindFull:
		b.storePayloads(env)
	case protocol.KindEvent:
		b.dispatchGameEvent(env)
	case protocol.KindCommandResult:
		b.dispatchCommandResult(env)
	}
}

// storePayloads updates one channel per entry in the envelope's channel
// list, then notifies frame subscribers.
func (b *Bridge) storePayloads(env *protocol.Envelope) {
	payloads := make(map[string]json.RawMessage, len(env.Channels))

	for _, name := range env.Channels {
		data, ok := env.Payload[name]
		if !ok {
			// channels must be a subset of payload keys; tolerate
			// producers that violate it rather than corrupt state.
			b.log.Warn().Str("channel", name).Msg("bridge: channel listed without payload")
			continue
		}

		meta, hasMeta := env.ChannelMeta[name]
		if !hasMeta {
			meta = protocol.ChannelTiming{
				Channel:      name,
				CollectFrame: env.Frame,
				CollectTime:  env.GameTime,
				Interval:     protocol.IntervalOnChange,
			}
		}

		b.store.UpdateChannel(name, data, &meta, env.Frame)
		payloads[name] = data
	}

	b.mu.RLock()
	frameFns := slices.Clone(b.frameFns)
	b.mu.RUnlock()
	for _, fn := range frameFns {
		fn(env.Frame, payloads)
	}
}

func (b *Bridge) dispatchGameEvent(env *protocol.Envelope) {
	ev := GameEvent{Type: env.Event, Frame: env.Frame, Data: env.EventData}

	b.mu.RLock()
	fns := slices.Clone(b.eventFns[env.Event])
	fns = append(fns, b.eventFns[""]...)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *Bridge) dispatchCommandResult(env *protocol.Envelope) {
	res := CommandResult{
		Command: env.Command,
		Success: env.Success,
		Frame:   env.Frame,
		Result:  env.Result,
		Error:   env.CommandError,
	}

	b.mu.RLock()
	fns := slices.Clone(b.commandResultFns)
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(res)
	}
}

// ChannelData returns the latest payload for name.
func (b *Bridge) ChannelData(name string) (json.RawMessage, bool) {
	return b.store.ChannelData(name)
}

// StateAtFrame returns the stored payload closest to targetFrame.
func (b *Bridge) StateAtFrame(name string, targetFrame int64) (json.RawMessage, bool) {
	return b.store.StateAtFrame(name, targetFrame)
}

// SynchronizedSnapshot returns the latest payloads for names when their
// collect frames lie within maxFrameDiff of each other.
func (b *Bridge) SynchronizedSnapshot(names []string, maxFrameDiff int64) (map[string]json.RawMessage, bool) {
	return b.store.SynchronizedSnapshot(names, maxFrameDiff)
}

// IsFresh reports whether name's latest state is at most maxStaleFrames old.
func (b *Bridge) IsFresh(name string, maxStaleFrames int64) bool {
	return b.store.IsFresh(name, maxStaleFrames)
}

// Age returns how many frames old name's latest state is.
func (b *Bridge) Age(name string) (int64, bool) {
	return b.store.Age(name)
}

// Stats returns the timing monitor's rolling counters.
func (b *Bridge) Stats() timing.Stats {
	return b.monitor.Stats()
}

// ConnectionState returns the server's lifecycle state.
func (b *Bridge) ConnectionState() server.State {
	return b.server.State()
}

// Addr returns the bound listener address.
func (b *Bridge) Addr() string {
	return b.server.Addr()
}
