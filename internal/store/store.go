// Package store implements the channel-state store: per-channel latest value
// plus bounded history, freshness queries, and the synchronized multi-channel
// snapshot that is the module's central consistency guarantee.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/telemetry-sync/tsc/internal/protocol"
)

// DefaultHistoryCapacity bounds per-channel history when no capacity is
// configured.
const DefaultHistoryCapacity = 100

// State is one owned snapshot of a channel. Data is a private copy: neither
// the writer's buffer nor a caller-held slice aliases store memory.
type State struct {
	Data         json.RawMessage
	CollectFrame int64
	CollectTime  int64
	ReceivedAt   time.Time
}

// channelEntry is the latest state plus the bounded ring of stored
// snapshots, oldest first. The ring includes the latest state, so after N
// updates it holds min(N, capacity) entries.
type channelEntry struct {
	latest  State
	history []State
}

// Store holds channel state written by the network goroutine and read by any
// number of consumer goroutines. One coarse RWMutex guards everything; each
// UpdateChannel call is a single atomic replace-and-push-history operation.
type Store struct {
	mu           sync.RWMutex
	channels     map[string]*channelEntry
	capacity     int
	currentFrame int64
}

// New creates a store with the given per-channel history capacity.
func New(historyCapacity int) *Store {
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &Store{
		channels: make(map[string]*channelEntry),
		capacity: historyCapacity,
	}
}

// UpdateChannel overwrites the channel's latest state and records it in the
// bounded history ring, evicting the oldest entry on overflow. This is the
// store's only mutator.
//
// When timing is nil the collect frame falls back to currentFrame, matching
// producers that send payloads without per-channel metadata.
func (s *Store) UpdateChannel(name string, data json.RawMessage, timing *protocol.ChannelTiming, currentFrame int64) {
	owned := make(json.RawMessage, len(data))
	copy(owned, data)

	next := State{
		Data:         owned,
		CollectFrame: currentFrame,
		ReceivedAt:   time.Now(),
	}
	if timing != nil {
		next.CollectFrame = timing.CollectFrame
		next.CollectTime = timing.CollectTime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if currentFrame > s.currentFrame {
		s.currentFrame = currentFrame
	}

	entry, exists := s.channels[name]
	if !exists {
		entry = &channelEntry{}
		s.channels[name] = entry
	}

	entry.history = append(entry.history, next)
	if len(entry.history) > s.capacity {
		entry.history = entry.history[1:]
	}
	entry.latest = next
}

// ChannelData returns a copy of the latest payload for name, or ok=false when
// the channel has never been updated.
func (s *Store) ChannelData(name string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return nil, false
	}
	return cloneData(entry.latest.Data), true
}

// Latest returns a copy of the full latest state for name.
func (s *Store) Latest(name string) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return State{}, false
	}
	st := entry.latest
	st.Data = cloneData(st.Data)
	return st, true
}

// IsFresh reports whether the channel's latest state is at most
// maxStaleFrames behind the store's current frame. A channel that has never
// been updated is simply not fresh.
func (s *Store) IsFresh(name string, maxStaleFrames int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return false
	}
	return s.currentFrame-entry.latest.CollectFrame <= maxStaleFrames
}

// Age returns how many frames behind the current frame the channel's latest
// state was collected, or ok=false for an unknown channel.
func (s *Store) Age(name string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return 0, false
	}
	return s.currentFrame - entry.latest.CollectFrame, true
}

// StateAtFrame returns the payload whose collect frame is closest to
// targetFrame, scanning history plus the latest state. Ties break toward the
// more recent entry.
func (s *Store) StateAtFrame(name string, targetFrame int64) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return nil, false
	}

	// Walk the ring newest first so ties keep the more recent entry.
	best := entry.latest
	bestDist := absDiff(entry.latest.CollectFrame, targetFrame)
	for i := len(entry.history) - 1; i >= 0; i-- {
		st := entry.history[i]
		if d := absDiff(st.CollectFrame, targetFrame); d < bestDist {
			best = st
			bestDist = d
		}
	}
	return cloneData(best.Data), true
}

// SynchronizedSnapshot returns the latest payload for every requested channel
// when all of them exist and their collect frames lie within maxFrameDiff of
// each other. Otherwise it returns ok=false: callers never silently receive a
// cross-channel view built from frames too far apart.
func (s *Store) SynchronizedSnapshot(names []string, maxFrameDiff int64) (map[string]json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(names) == 0 {
		return map[string]json.RawMessage{}, true
	}

	minFrame := int64(0)
	maxFrame := int64(0)
	for i, name := range names {
		entry, exists := s.channels[name]
		if !exists {
			return nil, false
		}
		cf := entry.latest.CollectFrame
		if i == 0 || cf < minFrame {
			minFrame = cf
		}
		if i == 0 || cf > maxFrame {
			maxFrame = cf
		}
	}
	if maxFrame-minFrame > maxFrameDiff {
		return nil, false
	}

	out := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		out[name] = cloneData(s.channels[name].latest.Data)
	}
	return out, true
}

// HistoryLen returns the number of snapshots currently held for name.
func (s *Store) HistoryLen(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.channels[name]
	if !exists {
		return 0
	}
	return len(entry.history)
}

// Channels returns the names of all channels seen so far.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// CurrentFrame returns the highest frame number any update has carried.
func (s *Store) CurrentFrame() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentFrame
}

func cloneData(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
