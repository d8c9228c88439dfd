// Package server runs the authoritative side of a netsync game.
//
// A Server owns the client slots, one netchan.Channel per connected client
// and the snapshot builder. Everything happens on the goroutine that calls
// Tick; transports only feed the ingress queue.
//
// # Tick
//
// Each tick runs these steps in order:
//
//  1. Drain at most DrainPerTick packets from the ingress queue.
//  2. Answer connectionless packets (getchallenge, connect, status).
//  3. Process sequenced packets per client: clc_move runs new user commands
//     and records the acknowledged frame, clc_stringcmd handles nodelta,
//     begin and disconnect.
//  4. Advance the frame and let the World run it.
//  5. Build a snapshot for every active client and transmit it, wrapped in
//     svc_zpacket when deflating it pays.
//  6. Drop clients whose channel timed out.
//
// # Connecting
//
//	client                              server
//	  getchallenge          ──────▶
//	                        ◀──────     challenge <n>
//	  connect <proto> <qport> <n> <userinfo>
//	                        ──────▶
//	                        ◀──────     client_connect
//	                        ◀══════     serverdata, baselines..., stufftext precache
//	  stringcmd begin       ══════▶
//	                        ◀──────     frame (full), frame (delta)...
//
// Single arrows are connectionless packets; double arrows are reliable
// channel data. Baselines that do not fit one reliable message follow in
// later ones as each is acknowledged.
//
// # Admin
//
// Router serves /metrics, /status and /clients for operators, and /ws for
// WebSocket clients when that transport is enabled.
package server
