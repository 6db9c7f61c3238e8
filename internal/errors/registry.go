package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

const docBase = "https://github.com/vango-dev/urlbar/blob/main/docs/errors.md#"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E199)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "urlbar looked for urlbar.json but it does not exist.",
		DocURL:   docBase + "e100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "urlbar.json could not be read or is not valid JSON.",
		DocURL:   docBase + "e101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "The server port must be between 0 and 65535.",
		DocURL:   docBase + "e102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid poll interval",
		Detail:   "watch.interval must be a positive Go duration such as \"200ms\".",
		DocURL:   docBase + "e103",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid log level",
		Detail:   "log.level must be one of debug, info, warn or error.",
		DocURL:   docBase + "e104",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Invalid path",
		Detail:   "server.basePath and metrics.path must start with '/'.",
		DocURL:   docBase + "e105",
	},

	// ============================================
	// Watcher Errors (E200-E299)
	// ============================================

	"E200": {
		Category: CategoryWatcher,
		Message:  "Watcher failed to start",
		Detail:   "The hash watcher could not be started.",
		DocURL:   docBase + "e200",
	},

	// ============================================
	// Protocol Errors (E300-E399)
	// ============================================

	"E300": {
		Category: CategoryProtocol,
		Message:  "WebSocket upgrade failed",
		Detail:   "The browser connection could not be upgraded to a WebSocket.",
		DocURL:   docBase + "e300",
	},
	"E301": {
		Category: CategoryProtocol,
		Message:  "Invalid client message",
		Detail:   "A message from the browser client was not a valid JSON frame.",
		DocURL:   docBase + "e301",
	},

	// ============================================
	// CLI Errors (E400-E499)
	// ============================================

	"E400": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
		DocURL:   docBase + "e400",
	},
	"E401": {
		Category: CategoryCLI,
		Message:  "Invalid hash",
		Detail:   "The hash could not be decoded in strict mode.",
		DocURL:   docBase + "e401",
	},
	"E402": {
		Category: CategoryCLI,
		Message:  "Unknown error code",
		Detail:   "The code is not in the urlbar error registry.",
		DocURL:   docBase + "e402",
	},
	"E403": {
		Category: CategoryCLI,
		Message:  "Command failed",
		Detail:   "The command could not complete.",
		DocURL:   docBase + "e403",
	},
	"E404": {
		Category: CategoryConfig,
		Message:  "Configuration file already exists",
		Detail:   "urlbar init will not overwrite an existing urlbar.json.",
		DocURL:   docBase + "e404",
	},
}

// GetAllCodes returns all registered error codes, sorted.
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
