// Package timing implements anomaly detection over the telemetry stream's
// sequence and frame numbers.
//
// Anomalies are never errors: each one becomes an Issue value delivered
// through the normal event stream and counted in rolling statistics.
package timing

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/telemetry-sync/tsc/internal/protocol"
)

// IssueType classifies one detected anomaly.
type IssueType string

const (
	IssueOutOfOrder IssueType = "OUT_OF_ORDER"
	IssueFrameGap   IssueType = "FRAME_GAP"
	IssueFrameJump  IssueType = "FRAME_JUMP"
	IssueStaleData  IssueType = "STALE_DATA"
)

// Severity grades an issue for consumers that filter or alert.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one immutable anomaly observation.
type Issue struct {
	Type     IssueType      `json:"type"`
	Severity Severity       `json:"severity"`
	Frame    int64          `json:"frame"`
	Details  map[string]any `json:"details,omitempty"`
}

// Stats is a point-in-time snapshot of the monitor's rolling counters.
type Stats struct {
	TotalMessages uint64               `json:"totalMessages"`
	TotalIssues   uint64               `json:"totalIssues"`
	IssuesByType  map[IssueType]uint64 `json:"issuesByType"`
	IssueRate     float64              `json:"issueRate"`
	LastSeq       int64                `json:"lastSeq"`
	LastFrame     int64                `json:"lastFrame"`
}

// Monitor tracks sequence/frame watermarks across envelopes and flags
// regressions, gaps, jumps, and stale channels.
type Monitor struct {
	mu sync.Mutex

	lastSeq   int64
	lastFrame int64

	totalMessages uint64
	issuesByType  map[IssueType]uint64

	frameJumpThreshold int64
	staleMultiplier    float64

	log zerolog.Logger
}

// NewMonitor creates a monitor with the given frame-jump threshold and
// stale-channel multiplier.
func NewMonitor(frameJumpThreshold int64, staleMultiplier float64, logger zerolog.Logger) *Monitor {
	return &Monitor{
		issuesByType:       make(map[IssueType]uint64),
		frameJumpThreshold: frameJumpThreshold,
		staleMultiplier:    staleMultiplier,
		log:                logger,
	}
}

// Check inspects one envelope and returns the issues it raises. Envelopes
// without v2.1 timing metadata only undergo the stale-channel check (which is
// vacuous for them), so legacy producers never trip sequence detection.
//
// The watermark is monotonic: an out-of-order envelope is reported but never
// moves lastSeq or lastFrame backward.
func (m *Monitor) Check(env *protocol.Envelope) []Issue {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalMessages++

	var issues []Issue
	outOfOrder := false

	if env.HasTimingMeta() {
		switch {
		case env.Seq < m.lastSeq:
			outOfOrder = true
			issues = append(issues, Issue{
				Type:     IssueOutOfOrder,
				Severity: SeverityError,
				Frame:    env.Frame,
				Details: map[string]any{
					"seq":      env.Seq,
					"last_seq": m.lastSeq,
				},
			})
		case env.Seq-m.lastSeq > 1 && m.lastSeq > 0:
			issues = append(issues, Issue{
				Type:     IssueFrameGap,
				Severity: SeverityWarning,
				Frame:    env.Frame,
				Details: map[string]any{
					"missing_count": env.Seq - m.lastSeq - 1,
				},
			})
		}

		if !outOfOrder && m.lastFrame > 0 && env.Frame-m.lastFrame > m.frameJumpThreshold {
			issues = append(issues, Issue{
				Type:     IssueFrameJump,
				Severity: SeverityWarning,
				Frame:    env.Frame,
				Details: map[string]any{
					"frame_gap": env.Frame - m.lastFrame,
				},
			})
		}
	}

	for name, meta := range env.ChannelMeta {
		if meta.IsStale(m.staleMultiplier) {
			issues = append(issues, Issue{
				Type:     IssueStaleData,
				Severity: SeverityInfo,
				Frame:    env.Frame,
				Details: map[string]any{
					"channel":      name,
					"stale_frames": meta.StaleFrames,
				},
			})
		}
	}

	if !outOfOrder {
		if env.Seq > m.lastSeq {
			m.lastSeq = env.Seq
		}
		if env.Frame > m.lastFrame {
			m.lastFrame = env.Frame
		}
	}

	for _, issue := range issues {
		m.issuesByType[issue.Type]++
		m.log.Debug().
			Str("issue", string(issue.Type)).
			Str("severity", string(issue.Severity)).
			Int64("frame", issue.Frame).
			Msg("timing: anomaly detected")
	}

	return issues
}

// Reset zeroes the sequence and frame watermarks. Called on each fresh peer
// connection so the first envelopes of a new session are not compared against
// the previous session's counters.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeq = 0
	m.lastFrame = 0
}

// Stats returns a snapshot of the rolling counters. It never mutates.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	byType := make(map[IssueType]uint64, len(m.issuesByType))
	var total uint64
	for t, n := range m.issuesByType {
		byType[t] = n
		total += n
	}

	rate := 0.0
	if m.totalMessages > 0 {
		rate = float64(total) / float64(m.totalMessages)
	}

	return Stats{
		TotalMessages: m.totalMessages,
		TotalIssues:   total,
		IssuesByType:  byType,
		IssueRate:     rate,
		LastSeq:       m.lastSeq,
		LastFrame:     m.lastFrame,
	}
}
