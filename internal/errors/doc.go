// Package errors provides structured, actionable errors for netsync
// operations that a person has to act on: binding sockets, loading
// configuration, reading and archiving demos, and CLI usage.
//
// Per-packet problems never become errors of this kind. Decoders and the
// channel drop bad input and count it; see the protocol and netchan
// packages.
//
// # Error Categories
//
//   - protocol: peers disagree about the wire format
//   - channel: connection setup or liveness failed
//   - snapshot: frame history could not be used
//   - transport: sockets and listeners
//   - config: configuration files and values
//   - demo: demo recording, playback and archival
//   - cli: command line usage
//
// # Error Codes
//
// Each error has a registered code (e.g., "E060") carrying a short message
// and a longer explanation.
//
// # Usage
//
//	err := errors.New("E060").
//	    WithSubject(":27910").
//	    WithSuggestion("Pick another port with --port or stop the other server").
//	    Wrap(cause)
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E060: Could not bind game socket
//	//
//	//   :27910
//	//
//	//   The UDP socket could not be opened on the requested address.
//	//
//	//   Cause: listen udp :27910: bind: address already in use
//	//
//	//   Hint: Pick another port with --port or stop the other server
package errors
