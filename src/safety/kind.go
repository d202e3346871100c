// Package safety is a client for the Prediction Guard content-safety API.
// Each check performs one POST against a scoring endpoint and translates the
// JSON response into an Outcome: the text passes, is replaced, or is blocked.
package safety

// DefaultBaseURL is the Prediction Guard API root used when no override is set.
const DefaultBaseURL = "https://api.predictionguard.com"

// Mode selects how a successful response is interpreted.
type Mode string

const (
	// ModeThresholdBlock blocks when the score is at or above the threshold.
	ModeThresholdBlock Mode = "threshold-block"
	// ModeThresholdBlockInverted treats the score as confidence that the text
	// is safe and blocks when it falls below the threshold.
	ModeThresholdBlockInverted Mode = "threshold-block-inverted-unused"
	// ModePIIReplaceOrReport returns the replaced prompt, or the PII report
	// when the API did not replace anything.
	ModePIIReplaceOrReport Mode = "pii-replace-or-report"
)

func (m Mode) valid() bool {
	switch m {
	case ModeThresholdBlock, ModeThresholdBlockInverted, ModePIIReplaceOrReport:
		return true
	}
	return false
}

func (m Mode) usesThreshold() bool {
	return m == ModeThresholdBlock || m == ModeThresholdBlockInverted
}

// Kind describes one check endpoint of the API.
type Kind struct {
	// Name appears in failure messages: "Could not check <Name>. ".
	Name string
	// Path is appended to the base URL.
	Path string
	// ScoreField is the numeric field of checks[0] compared to the threshold.
	ScoreField string
	// BlockReason is reported when the threshold is crossed.
	BlockReason string
	// Mode is used when a Request leaves its Mode empty.
	Mode Mode
}

var (
	KindInjection = Kind{
		Name:        "injection",
		Path:        "/injection",
		ScoreField:  "probability",
		BlockReason: "prompt injection detected",
		Mode:        ModeThresholdBlock,
	}

	KindPII = Kind{
		Name: "PII",
		Path: "/PII",
		Mode: ModePIIReplaceOrReport,
	}

	KindToxicity = Kind{
		Name:        "toxicity",
		Path:        "/toxicity",
		ScoreField:  "score",
		BlockReason: "toxic output detected",
		Mode:        ModeThresholdBlock,
	}
)

// PII replacement methods accepted by the API.
const (
	ReplaceCategory = "category"
	ReplaceFake     = "fake"
	ReplaceMask     = "mask"
	ReplaceRandom   = "random"
)

// ValidReplaceMethod reports whether m is a replacement method the API accepts.
// The empty string is allowed and leaves the choice to the API.
func ValidReplaceMethod(m string) bool {
	switch m {
	case "", ReplaceCategory, ReplaceFake, ReplaceMask, ReplaceRandom:
		return true
	}
	return false
}
