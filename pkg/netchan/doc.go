// Package netchan implements sequenced, fragmenting channels with a single
// in-flight reliable message over an unreliable datagram transport.
//
// # Wire Format
//
// Every sequenced packet starts with:
//
//	┌──────────────────────────┬──────────────────────────┬──────────┐
//	│ word 1 (uint32 LE)       │ word 2 (uint32 LE)       │ qport    │
//	│ bit 31: fragment         │ bit 31: reliable ack bit │ uint16,  │
//	│ bits 0-30: sequence      │ bits 0-30: ack sequence  │ client→  │
//	│                          │                          │ server   │
//	└──────────────────────────┴──────────────────────────┴──────────┘
//
// The body that follows (or the reassembled body, for fragments) is:
//
//	[flags: 1 byte][reliable length: uint16][reliable bytes][unreliable bytes]
//
// where the reliable length and bytes are present only when flags bit 0 is
// set, and flags bit 1 is the sender's reliable toggle bit.
//
// Fragments carry [offset: uint16][length: uint16] before their slice of the
// body. Every fragment but the last is exactly MaxFragmentSize long.
//
// A first word of 0xffffffff marks a connectionless (out-of-band) packet.
//
// # Reliability
//
// Only one reliable message is in flight at a time. It is resent with every
// packet until the peer echoes its toggle bit in word 2, and the receiver
// drops a reliable part whose bit matches the last one it accepted.
package netchan
