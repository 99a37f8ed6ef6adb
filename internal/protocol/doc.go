// Package protocol owns the telemetry wire contract: message kinds, the
// envelope shape shared by v2.0 and v2.1 producers, and per-channel timing
// metadata.
//
// Channel payloads are opaque at this layer. Structural decoding belongs to
// channel-specific parsers outside this module.
package protocol
