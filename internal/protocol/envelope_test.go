package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseV21Data(t *testing.T) {
	raw := []byte(`{
		"version": "2.1",
		"type": "DATA",
		"seq": 42,
		"frame": 100,
		"game_time": 123456,
		"prev_frame": 99,
		"channel_meta": {
			"PLAYER_POSITION": {"collect_frame": 100, "collect_time": 123456, "interval": "HIGH", "stale_frames": 0}
		},
		"payload": {"PLAYER_POSITION": {"x": 1, "y": 2}},
		"channels": ["PLAYER_POSITION"]
	}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindData {
		t.Errorf("Kind = %q, want DATA", env.Kind)
	}
	if env.Seq != 42 || env.Frame != 100 || env.PrevFrame != 99 {
		t.Errorf("seq/frame/prev = %d/%d/%d, want 42/100/99", env.Seq, env.Frame, env.PrevFrame)
	}
	if env.GameTime != 123456 {
		t.Errorf("GameTime = %d, want 123456", env.GameTime)
	}

	meta, ok := env.ChannelMeta["PLAYER_POSITION"]
	if !ok {
		t.Fatal("missing channel_meta for PLAYER_POSITION")
	}
	if meta.Interval != IntervalHigh || meta.CollectFrame != 100 {
		t.Errorf("unexpected timing meta %+v", meta)
	}

	var pos struct{ X, Y int }
	if err := json.Unmarshal(env.Payload["PLAYER_POSITION"], &pos); err != nil {
		t.Fatalf("payload stayed opaque but should unmarshal cleanly: %v", err)
	}
	if pos.X != 1 || pos.Y != 2 {
		t.Errorf("payload = %+v, want {1 2}", pos)
	}
}

func TestParseLegacyDefaults(t *testing.T) {
	raw := []byte(`{"version":"2.0","type":"DATA","frame":50,"seq":9,"prev_frame":10,
		"payload":{"A":1},"channels":["A"]}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Seq != 0 {
		t.Errorf("legacy seq = %d, want 0", env.Seq)
	}
	if env.PrevFrame != 49 {
		t.Errorf("legacy prev_frame = %d, want frame-1 = 49", env.PrevFrame)
	}
	if len(env.ChannelMeta) != 0 {
		t.Errorf("legacy channel_meta must be empty, got %d entries", len(env.ChannelMeta))
	}
	if env.HasTimingMeta() {
		t.Error("legacy envelope must not report timing metadata")
	}
}

func TestParseMissingMandatoryFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing type", `{"version":"2.1","frame":10}`},
		{"empty type", `{"type":"","frame":10}`},
		{"missing frame", `{"type":"DATA","version":"2.1"}`},
		{"frame wrong shape", `{"type":"DATA","frame":"ten"}`},
		{"unknown type", `{"type":"NOPE","frame":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Parse(%s) err = %v, want ErrProtocol", tt.raw, err)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	raw := []byte(`{"version":"2.1","type":"EVENT","frame":77,"event":"unit_died","data":{"unit":"zergling"}}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindEvent || env.Event != "unit_died" {
		t.Errorf("kind/event = %q/%q", env.Kind, env.Event)
	}
	if len(env.EventData) == 0 {
		t.Error("event data missing")
	}
}

func TestParseCommandResult(t *testing.T) {
	raw := []byte(`{"version":"2.1","type":"COMMAND_RESULT","frame":80,
		"command":"move_camera","success":false,"error":"out of bounds"}`)

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindCommandResult || env.Command != "move_camera" {
		t.Errorf("kind/command = %q/%q", env.Kind, env.Command)
	}
	if env.Success {
		t.Error("Success = true, want false")
	}
	if env.CommandError != "out of bounds" {
		t.Errorf("CommandError = %q", env.CommandError)
	}
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		name   string
		timing ChannelTiming
		want   bool
	}{
		{"high fresh", ChannelTiming{Interval: IntervalHigh, StaleFrames: 1}, false},
		{"high at threshold", ChannelTiming{Interval: IntervalHigh, StaleFrames: 2}, false},
		{"high stale", ChannelTiming{Interval: IntervalHigh, StaleFrames: 5}, true},
		{"medium fresh", ChannelTiming{Interval: IntervalMedium, StaleFrames: 10}, false},
		{"medium stale", ChannelTiming{Interval: IntervalMedium, StaleFrames: 11}, true},
		{"low fresh", ChannelTiming{Interval: IntervalLow, StaleFrames: 40}, false},
		{"low stale", ChannelTiming{Interval: IntervalLow, StaleFrames: 41}, true},
		{"on_change never stale", ChannelTiming{Interval: IntervalOnChange, StaleFrames: 10000}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.timing.IsStale(2.0); got != tt.want {
				t.Errorf("IsStale(2.0) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewCommandFrame(t *testing.T) {
	cmd := NewCommandFrame("select_unit", map[string]any{"id": 7})
	if cmd.Type != "CMD" {
		t.Errorf("Type = %q, want CMD", cmd.Type)
	}

	out, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(out, &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec["command"] != "select_unit" {
		t.Errorf("command = %v", rec["command"])
	}
}
