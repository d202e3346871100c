// Package sanitizer runs text through an ordered set of guardrail scanners
// before it is handed back to an MCP client. Scanners either check the text
// locally or call out to a remote safety service.
package sanitizer

import "context"

// Scanner inspects text and may return a replacement for it.
// Implementations must not mutate their input.
type Scanner interface {
	// Name identifies the scanner in logs and results.
	Name() string

	Scan(ctx context.Context, content string) (ScanResult, error)
}
