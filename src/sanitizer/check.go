package sanitizer

import (
	"context"

	"github.com/Easy-Infra-Ltd/easy-predictionguard/src/safety"
)

// CheckFunc runs one remote safety check against content.
type CheckFunc func(ctx context.Context, content string) (safety.Outcome, error)

// CheckScanner turns a remote check into a Scanner. Rate limits and
// upstream failures are returned as errors so the pipeline fails closed.
type CheckScanner struct {
	name  string
	check CheckFunc
}

func NewCheckScanner(name string, check CheckFunc) *CheckScanner {
	return &CheckScanner{name: name, check: check}
}

func (s *CheckScanner) Name() string { return s.name }

func (s *CheckScanner) Scan(ctx context.Context, content string) (ScanResult, error) {
	out, err := s.check(ctx, content)
	if err != nil {
		return ScanResult{}, err
	}

	switch out.Status {
	case safety.StatusPassed:
		return ScanResult{Verdict: VerdictPass, Content: content, ScannerName: s.name}, nil

	case safety.StatusModified:
		// A PII report describes the text without replacing it.
		if out.Report != nil {
			return ScanResult{
				Verdict:     VerdictPass,
				Content:     content,
				Threats:     []string{out.Kind + " detected: " + out.Text},
				ScannerName: s.name,
			}, nil
		}
		return ScanResult{Verdict: VerdictModify, Content: out.Text, ScannerName: s.name}, nil

	case safety.StatusBlocked:
		return ScanResult{Verdict: VerdictBlock, Threats: []string{out.Reason}, ScannerName: s.name}, nil

	default:
		return ScanResult{}, out.Err()
	}
}
