package process

import "context"

// Constraints bound the size of a generated summary.
type Constraints struct {
	MaxKeyPoints int
	TargetWords  int
}

func DefaultConstraints() Constraints {
	return Constraints{
		MaxKeyPoints: 5,
		TargetWords:  150,
	}
}

// Provider is an AI backend that can summarize a transcript.
type Provider interface {
	Name() string
	GenerateSummary(ctx context.Context, text string, c Constraints) (string, []string, error)
}
