// Package peermock provides a scripted telemetry producer for testing and
// development. It dials the core's listening socket, emits v2.0/v2.1 frames
// with auto-advancing sequence and frame counters, records inbound command
// frames, and supports fault injection (sequence skips, frame jumps, stale
// channels, malformed lines).
package peermock

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telemetry-sync/tsc/internal/protocol"
	"github.com/telemetry-sync/tsc/internal/wire"
)

// Producer is one scripted peer connection.
type Producer struct {
	conn net.Conn
	log  zerolog.Logger

	mu       sync.Mutex
	seq      int64
	frame    int64
	commands []protocol.CommandFrame
	closed   bool

	readerDone chan struct{}
}

// Dial connects a producer to the core at addr. Frame counters start at the
// given frame; each data frame advances seq by one and frame by frameStep.
func Dial(addr string, startFrame int64, logger zerolog.Logger) (*Producer, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		conn:       conn,
		log:        logger,
		frame:      startFrame,
		readerDone: make(chan struct{}),
	}
	go p.readCommands()
	return p, nil
}

// readCommands collects CMD frames written back by the core.
func (p *Producer) readCommands() {
	defer close(p.readerDone)

	scanner := bufio.NewScanner(p.conn)
	for scanner.Scan() {
		var cmd protocol.CommandFrame
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			p.log.Warn().Err(err).Msg("peermock: unreadable inbound frame")
			continue
		}
		p.mu.Lock()
		p.commands = append(p.commands, cmd)
		p.mu.Unlock()
	}
}

// Commands returns a copy of every CMD frame received so far.
func (p *Producer) Commands() []protocol.CommandFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.CommandFrame, len(p.commands))
	copy(out, p.commands)
	return out
}

// dataFrame is the raw v2.1 shape the producer writes.
type dataFrame struct {
	Version     string                            `json:"version"`
	Type        string                            `json:"type"`
	Seq         int64                             `json:"seq,omitempty"`
	Frame       int64                             `json:"frame"`
	GameTime    int64                             `json:"game_time"`
	PrevFrame   int64                             `json:"prev_frame"`
	ChannelMeta map[string]protocol.ChannelTiming `json:"channel_meta,omitempty"`
	Payload     map[string]json.RawMessage        `json:"payload"`
	Channels    []string                          `json:"channels"`

	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`

	Command string          `json:"command,omitempty"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SendData writes one v2.1 DATA frame carrying payloads, advancing the
// sequence and frame counters. Channel metadata is synthesized as HIGH
// interval with zero staleness unless overridden via meta.
func (p *Producer) SendData(payloads map[string]json.RawMessage, meta map[string]protocol.ChannelTiming) error {
	p.mu.Lock()
	p.seq++
	prev := p.frame
	p.frame++
	frame := dataFrame{
		Version:     "2.1",
		Type:        string(protocol.KindData),
		Seq:         p.seq,
		Frame:       p.frame,
		GameTime:    p.frame * 100,
		PrevFrame:   prev,
		ChannelMeta: make(map[string]protocol.ChannelTiming, len(payloads)),
		Payload:     payloads,
	}
	for name := range payloads {
		frame.Channels = append(frame.Channels, name)
		if m, ok := meta[name]; ok {
			frame.ChannelMeta[name] = m
			continue
		}
		frame.ChannelMeta[name] = protocol.ChannelTiming{
			Channel:      name,
			CollectFrame: p.frame,
			CollectTime:  p.frame * 100,
			Interval:     protocol.IntervalHigh,
		}
	}
	p.mu.Unlock()

	return p.write(frame)
}

// SendLegacyData writes a v2.0 frame without sequence or channel metadata.
func (p *Producer) SendLegacyData(payloads map[string]json.RawMessage) error {
	p.mu.Lock()
	p.frame++
	frame := dataFrame{
		Version:  "2.0",
		Type:     string(protocol.KindData),
		Frame:    p.frame,
		GameTime: p.frame * 100,
		Payload:  payloads,
	}
	for name := range payloads {
		frame.Channels = append(frame.Channels, name)
	}
	p.mu.Unlock()

	return p.write(frame)
}

// SendEvent writes one EVENT frame at the current frame counter.
func (p *Producer) SendEvent(eventType string, data json.RawMessage) error {
	p.mu.Lock()
	frame := dataFrame{
		Version: "2.1",
		Type:    string(protocol.KindEvent),
		Frame:   p.frame,
		Event:   eventType,
		Data:    data,
	}
	p.mu.Unlock()

	return p.write(frame)
}

// SendCommandResult answers a previously received command.
func (p *Producer) SendCommandResult(command string, success bool, result json.RawMessage, errMsg string) error {
	p.mu.Lock()
	frame := dataFrame{
		Version: "2.1",
		Type:    string(protocol.KindCommandResult),
		Frame:   p.frame,
		Command: command,
		Success: success,
		Result:  result,
		Error:   errMsg,
	}
	p.mu.Unlock()

	return p.write(frame)
}

// SkipSeq advances the sequence counter without sending, so the next data
// frame arrives with a visible gap.
func (p *Producer) SkipSeq(n int64) {
	p.mu.Lock()
	p.seq += n
	p.mu.Unlock()
}

// JumpFrame advances the frame counter without sending, producing an
// abnormal frame jump on the next data frame.
func (p *Producer) JumpFrame(n int64) {
	p.mu.Lock()
	p.frame += n
	p.mu.Unlock()
}

// SendMalformed writes a line that is not valid JSON.
func (p *Producer) SendMalformed() error {
	_, err := p.conn.Write([]byte("##garbage##\n"))
	return err
}

func (p *Producer) write(v any) error {
	data, err := wire.Encode(v)
	if err != nil {
		return err
	}
	p.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = p.conn.Write(data)
	return err
}

// Close tears the connection down abruptly, as a crashing producer would.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.conn.Close()
	<-p.readerDone
}
