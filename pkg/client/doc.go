// Package client is the player side of a netsync game.
//
// A Client connects to a server, applies the snapshots it sends and keeps
// the local player responsive by predicting its own commands. It is owned
// by the game loop goroutine; the transport only feeds its ingress queue.
//
// A frame of the game loop looks like this:
//
//	c.Frame(now)                  // handle packets, retries, keepalives
//	c.SampleCommand(cmd, now)     // predict and send the player's input
//	view, ok := c.RenderState(now)
//
// # Prediction
//
// Every sampled command gets a sequence number and is run through pmove at
// once. Snapshots carry the newest sequence the server ran; the prediction
// for it is compared with the server's state and, on a miss, every newer
// command is replayed from the corrected state. The visible correction is
// eased in by an interp.ErrorSmoother.
//
// # Interpolation
//
// Remote entities are placed between the two newest snapshots by the time
// since the newest one arrived, measured against the expected snapshot
// interval. When the next snapshot is late they keep moving along their
// last velocity for at most Config.ExtrapolateMax. With interp.ModeCubic
// they instead follow a Catmull-Rom spline through their recent positions,
// rendered Config.Window's adaptive delay in the past.
//
// # Demos
//
// WithDemo or StartDemo record the server messages the client receives.
// A demo started mid-game begins with the serverdata and baselines and
// waits for a full snapshot before recording frames.
package client
