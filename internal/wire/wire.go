// Package wire implements the newline-delimited JSON framing used on the
// telemetry connection.
//
// The codec has no protocol knowledge: it slices an accumulating byte buffer
// into complete frames and validates that each frame is well-formed JSON.
// Malformed frames are dropped with a warning and never abort decoding.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// maxFrameBytes bounds buffer growth when the peer never sends a newline.
const maxFrameBytes = 8 * 1024 * 1024

// Decoder accumulates raw bytes from the connection and yields one complete
// frame at a time.
type Decoder struct {
	buf     bytes.Buffer
	dropped uint64
	log     zerolog.Logger
}

// NewDecoder creates a decoder that reports dropped frames on logger.
func NewDecoder(logger zerolog.Logger) *Decoder {
	return &Decoder{log: logger}
}

// Feed appends raw bytes received from the connection.
func (d *Decoder) Feed(b []byte) {
	d.buf.Write(b)
	if d.buf.Len() > maxFrameBytes {
		// Unframed garbage; discard and resynchronize on the next newline.
		d.log.Warn().Int("bytes", d.buf.Len()).Msg("wire: frame buffer overflow, discarding")
		d.buf.Reset()
		d.dropped++
	}
}

// Next returns the next complete frame, or ok=false when the buffer holds no
// complete frame yet. Frames that are not valid JSON are skipped.
func (d *Decoder) Next() (json.RawMessage, bool) {
	for {
		raw := d.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			return nil, false
		}

		line := make([]byte, idx)
		copy(line, raw[:idx])
		d.buf.Next(idx + 1)

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			d.dropped++
			d.log.Warn().Int("bytes", len(line)).Msg("wire: dropping malformed frame")
			continue
		}
		return json.RawMessage(line), true
	}
}

// Dropped returns the number of frames discarded as malformed.
func (d *Decoder) Dropped() uint64 {
	return d.dropped
}

// Reset discards any partially buffered frame. Called between peer
// connections so a torn frame from the old peer cannot prefix the new stream.
func (d *Decoder) Reset() {
	d.buf.Reset()
}

// Encode serializes v as one newline-terminated frame.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode failed: %w", err)
	}
	return append(payload, '\n'), nil
}
