package sanitizer

// Verdict is a scanner's decision about a piece of text.
type Verdict int

const (
	VerdictPass Verdict = iota
	// VerdictModify replaces the text with ScanResult.Content.
	VerdictModify
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictModify:
		return "modify"
	case VerdictBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ScanResult is what one Scanner decided.
type ScanResult struct {
	Verdict     Verdict
	Content     string
	Threats     []string
	ScannerName string
}

// PipelineResult is the combined decision of every scanner that ran.
type PipelineResult struct {
	FinalVerdict Verdict
	FinalContent string
	AllThreats   []string
	ScanResults  []ScanResult
}

// Blocked reports whether any scanner rejected the text.
func (r PipelineResult) Blocked() bool {
	return r.FinalVerdict == VerdictBlock
}
