package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies the role of one envelope on the wire.
type Kind string

const (
	KindData          Kind = "DATA"
	KindFull          Kind = "FULL"
	KindEvent         Kind = "EVENT"
	KindCommandResult Kind = "COMMAND_RESULT"
)

// IntervalClass is the nominal sampling rate category of a channel. Staleness
// thresholds scale with the class's expected refresh period.
type IntervalClass string

const (
	IntervalHigh     IntervalClass = "HIGH"
	IntervalMedium   IntervalClass = "MEDIUM"
	IntervalLow      IntervalClass = "LOW"
	IntervalOnChange IntervalClass = "ON_CHANGE"
)

// Expected refresh period per interval class, in frames.
const (
	periodHigh   = 1
	periodMedium = 5
	periodLow    = 20
)

// ErrProtocol indicates a well-formed record that is missing mandatory
// envelope fields. Callers recover the same way as for a malformed frame:
// log, drop, continue.
var ErrProtocol = errors.New("protocol: invalid envelope")

// ChannelTiming is the producer-side sampling metadata for one channel,
// carried by v2.1 envelopes.
type ChannelTiming struct {
	Channel      string        `json:"channel"`
	CollectFrame int64         `json:"collect_frame"`
	CollectTime  int64         `json:"collect_time"`
	Interval     IntervalClass `json:"interval"`
	StaleFrames  int64         `json:"stale_frames"`
}

// IsStale reports whether the producer-side age of this channel exceeds what
// its interval class tolerates. The threshold is multiplier times the class's
// expected period; ON_CHANGE channels are never stale by this rule.
func (t ChannelTiming) IsStale(multiplier float64) bool {
	var period int64
	switch t.Interval {
	case IntervalHigh:
		period = periodHigh
	case IntervalMedium:
		period = periodMedium
	case IntervalLow:
		period = periodLow
	default:
		return false
	}
	return float64(t.StaleFrames) > multiplier*float64(period)
}

// Envelope is one parsed protocol message. Payload values stay opaque.
type Envelope struct {
	Version     string
	Kind        Kind
	Seq         int64
	Frame       int64
	GameTime    int64
	PrevFrame   int64
	ChannelMeta map[string]ChannelTiming
	Payload     map[string]json.RawMessage
	Channels    []string

	// EVENT only.
	Event     string
	EventData json.RawMessage

	// COMMAND_RESULT only.
	Command      string
	Success      bool
	Result       json.RawMessage
	CommandError string
}

// HasTimingMeta reports whether this envelope came from a v2.1-capable
// producer and carries sequence/timing metadata worth monitoring.
func (e *Envelope) HasTimingMeta() bool {
	return e.Seq > 0 || len(e.ChannelMeta) > 0
}

// wireEnvelope mirrors the raw frame layout for decoding.
type wireEnvelope struct {
	Version     string                     `json:"version"`
	Type        *string                    `json:"type"`
	Seq         int64                      `json:"seq"`
	Frame       *int64                     `json:"frame"`
	GameTime    int64                      `json:"game_time"`
	PrevFrame   *int64                     `json:"prev_frame"`
	ChannelMeta map[string]ChannelTiming   `json:"channel_meta"`
	Payload     map[string]json.RawMessage `json:"payload"`
	Channels    []string                   `json:"channels"`

	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`

	Command string          `json:"command"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// legacyVersion is the last protocol revision without sequence numbers or
// channel timing metadata.
const legacyVersion = "2.0"

// Parse decodes one frame into an Envelope, normalizing legacy v2.0 records
// to the v2.1 shape. It fails with ErrProtocol only when the mandatory
// fields type and frame are absent or of the wrong shape.
func Parse(raw []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if w.Type == nil || *w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	if w.Frame == nil {
		return nil, fmt.Errorf("%w: missing frame", ErrProtocol)
	}

	kind := Kind(*w.Type)
	switch kind {
	case KindData, KindFull, KindEvent, KindCommandResult:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrProtocol, *w.Type)
	}

	env := &Envelope{
		Version:      w.Version,
		Kind:         kind,
		Seq:          w.Seq,
		Frame:        *w.Frame,
		GameTime:     w.GameTime,
		ChannelMeta:  w.ChannelMeta,
		Payload:      w.Payload,
		Channels:     w.Channels,
		Event:        w.Event,
		EventData:    w.Data,
		Command:      w.Command,
		Success:      w.Success,
		Result:       w.Result,
		CommandError: w.Error,
	}

	if w.PrevFrame != nil {
		env.PrevFrame = *w.PrevFrame
	} else {
		env.PrevFrame = env.Frame - 1
	}

	if env.Version == legacyVersion || env.Version == "" {
		env.Seq = 0
		env.PrevFrame = env.Frame - 1
		env.ChannelMeta = map[string]ChannelTiming{}
	}
	if env.ChannelMeta == nil {
		env.ChannelMeta = map[string]ChannelTiming{}
	}
	if env.Payload == nil {
		env.Payload = map[string]json.RawMessage{}
	}

	return env, nil
}

// CommandFrame is the outbound record written back to the producer.
type CommandFrame struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// NewCommandFrame builds the outbound command record for name and args.
func NewCommandFrame(name string, args map[string]any) CommandFrame {
	return CommandFrame{Type: "CMD", Command: name, Args: args}
}
