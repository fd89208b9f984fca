package errors

import "sort"

// Template defines a registered error.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

var registry = map[string]Template{
	// Configuration (H100-H199)
	"H100": {
		Category:   CategoryConfig,
		Message:    "Cannot read configuration file",
		Detail:     "herald.yaml exists but could not be read or parsed.",
		Suggestion: "Check the YAML syntax near the reported line.",
	},
	"H101": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A field in herald.yaml has a value herald cannot use.",
	},
	"H102": {
		Category:   CategoryConfig,
		Message:    "Cannot write configuration file",
		Suggestion: "Check that the directory exists and is writable.",
	},
	"H104": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Suggestion: "Run 'herald init' to write a default herald.yaml.",
	},
	"H103": {
		Category:   CategoryConfig,
		Message:    "Cannot load environment file",
		Detail:     "The .env file exists but is not valid KEY=value syntax.",
		Suggestion: "Remove the file or fix the offending line.",
	},

	// Runtime (H200-H299)
	"H200": {
		Category: CategoryRuntime,
		Message:  "Controller already registered",
		Detail:   "Controller names must be unique within a hub.",
	},
	"H201": {
		Category: CategoryRuntime,
		Message:  "Controller not found",
	},
	"H202": {
		Category: CategoryRuntime,
		Message:  "Controller disposed",
		Detail:   "Notifications and registrations on a disposed controller are ignored.",
	},

	// Listener failures (H300-H399)
	"H300": {
		Category: CategoryListener,
		Message:  "Listener failed",
		Detail:   "A listener panicked during dispatch. Remaining listeners still ran.",
	},
	"H301": {
		Category: CategoryListener,
		Message:  "Selector failed",
		Detail:   "A derived value selector panicked. The previous value was kept.",
	},

	// Services (H400-H499)
	"H400": {
		Category:   CategoryService,
		Message:    "Cannot start HTTP server",
		Suggestion: "Is another process listening on the same address? Set HERALD_ADDR to change it.",
	},
	"H401": {
		Category:   CategoryService,
		Message:    "File watcher failed",
		Suggestion: "On Linux, raise fs.inotify.max_user_watches if the limit was reached.",
	},

	// Storage (H500-H599)
	"H500": {
		Category:   CategoryStorage,
		Message:    "Journal flush failed",
		Detail:     "Records stay buffered and are retried on the next flush.",
		Suggestion: "Check the bucket name and the AWS credentials in the environment.",
	},

	// CLI (H900-H999)
	"H900": {
		Category: CategoryCLI,
		Message:  "Invalid flag value",
	},
}

// Codes returns all registered codes, sorted.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds or replaces a template. Call it from init functions only.
func Register(code string, t Template) {
	registry[code] = t
}
