package safety

import "encoding/json"

// Status tags the variant held by an Outcome.
type Status int

const (
	StatusPassed Status = iota
	StatusModified
	StatusBlocked
	StatusRateLimited
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusModified:
		return "modified"
	case StatusBlocked:
		return "blocked"
	case StatusRateLimited:
		return "rate_limited"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one check.
//
// Passed and Modified carry the text to use downstream in Text. A Modified
// outcome built from a PII report also keeps the raw report in Report, with
// Text holding its string form. Blocked and Failed carry a human-readable
// Reason.
type Outcome struct {
	Status Status
	Kind   string

	Text   string
	Report json.RawMessage
	Reason string

	// StatusCode is the upstream HTTP status, zero when no response arrived.
	StatusCode int
	// Score is the value compared to the threshold in threshold modes.
	Score float64

	cause error
}

// Allowed reports whether the text may continue downstream.
func (o Outcome) Allowed() bool {
	return o.Status == StatusPassed || o.Status == StatusModified
}

// Err returns the typed error for non-pass outcomes and nil otherwise.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusBlocked:
		return &BlockedError{Kind: o.Kind, Reason: o.Reason}
	case StatusRateLimited:
		return &RateLimitedError{Kind: o.Kind}
	case StatusFailed:
		if o.cause != nil {
			return &TransportError{Kind: o.Kind, Err: o.cause}
		}
		return &UpstreamError{Kind: o.Kind, StatusCode: o.StatusCode, Message: o.Reason}
	default:
		return nil
	}
}

// Message is the text a host shows for this outcome.
func (o Outcome) Message() string {
	if o.Allowed() {
		return o.Text
	}
	return o.Err().Error()
}

func passed(kind Kind, text string, code int, score float64) Outcome {
	return Outcome{Status: StatusPassed, Kind: kind.Name, Text: text, StatusCode: code, Score: score}
}

func modified(kind Kind, text string, report json.RawMessage, code int) Outcome {
	return Outcome{Status: StatusModified, Kind: kind.Name, Text: text, Report: report, StatusCode: code}
}

func blocked(kind Kind, reason string, code int, score float64) Outcome {
	return Outcome{Status: StatusBlocked, Kind: kind.Name, Reason: reason, StatusCode: code, Score: score}
}

func rateLimited(kind Kind) Outcome {
	return Outcome{Status: StatusRateLimited, Kind: kind.Name, Reason: rateLimitMessage, StatusCode: 429}
}

func failed(kind Kind, message string, code int) Outcome {
	return Outcome{Status: StatusFailed, Kind: kind.Name, Reason: message, StatusCode: code}
}

func unreachable(kind Kind, err error) Outcome {
	return Outcome{Status: StatusFailed, Kind: kind.Name, Reason: err.Error(), cause: err}
}
