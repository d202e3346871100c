package sanitizer

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// LengthScanner blocks text longer than MaxChars runes so oversized input
// never reaches the remote checks.
type LengthScanner struct {
	MaxChars int
}

func NewLengthScanner(maxChars int) *LengthScanner {
	return &LengthScanner{MaxChars: maxChars}
}

func (s *LengthScanner) Name() string { return "length" }

func (s *LengthScanner) Scan(_ context.Context, content string) (ScanResult, error) {
	if n := utf8.RuneCountInString(content); n > s.MaxChars {
		return ScanResult{
			Verdict:     VerdictBlock,
			Threats:     []string{fmt.Sprintf("input is %d characters, limit is %d", n, s.MaxChars)},
			ScannerName: s.Name(),
		}, nil
	}

	return ScanResult{
		Verdict:     VerdictPass,
		Content:     content,
		ScannerName: s.Name(),
	}, nil
}
