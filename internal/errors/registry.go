package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Protocol Errors (E001-E019)
	// ============================================

	"E001": {
		Category: CategoryProtocol,
		Message:  "Malformed message",
		Detail:   "A message could not be decoded. It was truncated or written by a different protocol version.",
	},
	"E002": {
		Category:   CategoryProtocol,
		Message:    "Protocol version mismatch",
		Detail:     "The peer speaks a different protocol version. Delta bitmasks are not compatible across versions.",
		Suggestion: "Run the same netsync release on both ends",
	},
	"E003": {
		Category: CategoryProtocol,
		Message:  "Unexpected server message",
		Detail:   "The server sent an operation the client does not handle in its current state.",
	},

	// ============================================
	// Channel Errors (E020-E039)
	// ============================================

	"E020": {
		Category: CategoryChannel,
		Message:  "Reliable message pending",
		Detail:   "A reliable message is still unacknowledged and another would overwrite it.",
	},
	"E021": {
		Category:   CategoryChannel,
		Message:    "Connection timed out",
		Detail:     "Nothing was received from the peer for longer than the channel timeout.",
		Suggestion: "Check the address and that the port is reachable, or raise channel.timeout",
	},
	"E022": {
		Category: CategoryChannel,
		Message:  "Connection refused",
		Detail:   "The server rejected the connection request.",
	},

	// ============================================
	// Snapshot Errors (E040-E059)
	// ============================================

	"E040": {
		Category: CategorySnapshot,
		Message:  "Delta frame unavailable",
		Detail:   "A snapshot was delta-compressed against a frame the client no longer holds. The client requests full states.",
	},

	// ============================================
	// Transport Errors (E060-E079)
	// ============================================

	"E060": {
		Category:   CategoryTransport,
		Message:    "Could not bind game socket",
		Detail:     "The UDP socket could not be opened on the requested address.",
		Suggestion: "Pick another port with --port or stop the other server",
	},
	"E061": {
		Category: CategoryTransport,
		Message:  "Could not reach server",
		Detail:   "Dialing the server address failed.",
	},
	"E062": {
		Category: CategoryTransport,
		Message:  "Admin listener failed",
		Detail:   "The HTTP listener for metrics and status stopped with an error.",
	},

	// ============================================
	// Config Errors (E080-E099)
	// ============================================

	"E080": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration file",
		Detail:     "The configuration file could not be parsed.",
		Suggestion: "Check the file for syntax errors",
	},
	"E081": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is outside its allowed range.",
	},
	"E082": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Detail:     "No netsync.json, netsync.yaml or netsync.yml was found.",
		Suggestion: "Create one with `netsync config init` or pass --config",
	},
	"E083": {
		Category: CategoryConfig,
		Message:  "Could not write configuration",
		Detail:   "Saving the configuration file failed.",
	},

	// ============================================
	// Demo Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryDemo,
		Message:  "Could not open demo",
		Detail:   "The demo file could not be created or opened.",
	},
	"E101": {
		Category: CategoryDemo,
		Message:  "Corrupt demo",
		Detail:   "A demo block has an impossible length or does not decompress to its recorded size.",
	},
	"E102": {
		Category:   CategoryDemo,
		Message:    "Demo upload failed",
		Detail:     "The archived demo could not be stored in the bucket.",
		Suggestion: "Check demo.bucket, demo.region and the AWS credentials in the environment",
	},
	"E103": {
		Category: CategoryDemo,
		Message:  "Could not write demo",
		Detail:   "Writing a message to the demo file failed. Recording has stopped.",
	},

	// ============================================
	// CLI Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		Detail:   "A command line argument could not be parsed.",
	},
	"E121": {
		Category:   CategoryCLI,
		Message:    "No bucket configured",
		Detail:     "Uploading a demo needs a destination bucket.",
		Suggestion: "Set demo.bucket in netsync.json or pass --bucket",
	},
}

// GetAllCodes returns all registered error codes in order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
