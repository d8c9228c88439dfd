// Package protocol implements the game message codec shared by the server and
// the client.
//
// Everything that travels inside a channel payload is written into and read
// out of a Message: a bounded little-endian byte buffer with a sticky overflow
// flag. Decoders never return errors mid-parse. They return zero values once
// the buffer is exhausted, and the caller checks Overflowed after the parse
// loop and discards the whole packet if it is set.
//
// # Domain Encodings
//
//   - Coord: world-space float at 1/8 unit, int16 (±4096 units)
//   - Angle: one byte, 1/256 of a turn
//   - Angle16: one short, 1/65536 of a turn
//   - Quarter: one signed byte, 1/4 unit (view and gun offsets)
//
// # Delta Entities
//
// An entity record starts with a field mask sent in 1 to 4 bytes:
//
//	┌─────────┬─────────┬─────────┬─────────┬──────────────────┐
//	│ bits 0-7│ 8-15    │ 16-23   │ 24-31   │ number           │
//	│ (byte)  │ if MB1  │ if MB2  │ if MB3  │ byte, or short   │
//	│         │         │         │         │ when UNumber16   │
//	└─────────┴─────────┴─────────┴─────────┴──────────────────┘
//
// followed by only the fields whose bit is set, in a fixed order: models,
// frame, skin, effects, renderfx, origin, angles, old origin, sound, event,
// solid. URemove with no other field bits removes the entity. A record with
// number 0 ends svc_packetentities.
//
// # Snapshots
//
// A snapshot is three server ops in one message:
//
//	svc_frame          FrameHeader
//	svc_playerinfo     PlayerBits + changed PlayerState fields + stats
//	svc_packetentities delta records ... 0
//
// # Client Commands
//
// clc_move carries the last acknowledged server frame and three user
// commands, each delta-encoded against the previous one, so a single lost
// packet does not lose input.
package protocol
