// Package snapshot implements per-client delta-compressed snapshots.
//
// The server records what each client was sent in a ClientFrames ring and
// encodes every new snapshot against the newest frame the client
// acknowledged. The client keeps its own FrameRing and rebuilds each frame
// from the one the server named as the delta source.
//
// # Snapshot Layout
//
//	svc_frame         ServerFrame, DeltaFrame, SuppressCount, CommandAck
//	svc_playerinfo    player state delta against the source frame
//	svc_packetentities
//	                  entity records in ascending number order
//	                  uint16 0 terminator
//
// An entity record is one of:
//
//   - a delta against the same entity in the source frame
//   - a forced delta against the entity's baseline, for entities the source
//     frame did not have
//   - a removal, for entities the source frame had and this one does not
//
// Entities the record list skips are carried over unchanged.
//
// A DeltaFrame of -1 means every entity is sent from its baseline. The server
// falls back to that when the client has not acknowledged anything or its
// acknowledgement is older than the ring can serve. The client asks for it
// when the source frame is no longer in its own ring.
package snapshot
