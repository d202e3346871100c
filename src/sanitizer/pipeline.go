package sanitizer

import (
	"context"
	"fmt"
)

// Pipeline runs scanners in order. A block stops the run; a modification
// becomes the input of the next scanner.
type Pipeline struct {
	scanners []Scanner
}

// NewPipeline returns a pipeline that runs scanners in slice order.
func NewPipeline(scanners ...Scanner) *Pipeline {
	return &Pipeline{scanners: scanners}
}

// Len is the number of scanners in the pipeline.
func (p *Pipeline) Len() int { return len(p.scanners) }

// Process runs content through every scanner. A scanner error aborts the
// run and is returned wrapped with the scanner name.
func (p *Pipeline) Process(ctx context.Context, content string) (PipelineResult, error) {
	current := content
	result := PipelineResult{
		FinalVerdict: VerdictPass,
		ScanResults:  make([]ScanResult, 0, len(p.scanners)),
	}

	for _, s := range p.scanners {
		sr, err := s.Scan(ctx, current)
		if err != nil {
			return result, fmt.Errorf("%s: %w", s.Name(), err)
		}

		result.ScanResults = append(result.ScanResults, sr)
		result.AllThreats = append(result.AllThreats, sr.Threats...)

		switch sr.Verdict {
		case VerdictBlock:
			result.FinalVerdict = VerdictBlock
			result.FinalContent = ""
			return result, nil
		case VerdictModify:
			result.FinalVerdict = VerdictModify
			current = sr.Content
		}
	}

	result.FinalContent = current
	return result, nil
}
