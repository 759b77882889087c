package fusion

import (
	"fmt"

	"horse.fit/fusion/internal/inference"
)

const (
	DefaultSimilarityThreshold = 80.0
	DefaultUpdateThreshold     = 60.0
)

// Decision is what Fuse does with an item for a story.
type Decision int

const (
	DecisionCreate Decision = iota + 1
	DecisionSkip
	DecisionUpdate
	DecisionNewVersion
)

func (d Decision) String() string {
	switch d {
	case DecisionCreate:
		return "create"
	case DecisionSkip:
		return "skip"
	case DecisionUpdate:
		return "update"
	case DecisionNewVersion:
		return "new_version"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Thresholds are percentages. Difference is always percent changed: an item
// is skipped when more than Similarity percent of it is already known, and
// versioned when at least Update percent of it is new.
type Thresholds struct {
	Similarity float64
	Update     float64
}

func (t Thresholds) normalized() Thresholds {
	if t.Similarity <= 0 || t.Similarity > 100 {
		t.Similarity = DefaultSimilarityThreshold
	}
	if t.Update <= 0 || t.Update > 100 {
		t.Update = DefaultUpdateThreshold
	}
	return t
}

// fallbackJudgment is used whenever the difference call fails, so news is
// merged rather than dropped.
var fallbackJudgment = inference.DifferenceJudgment{
	Difference:        50,
	HasNewInformation: true,
	Reasoning:         "difference judgment unavailable",
}

// Decide maps a story's state and a difference judgment to a decision and a
// human-readable reason. It has no side effects.
func Decide(hasCanonical bool, j inference.DifferenceJudgment, t Thresholds) (Decision, string) {
	t = t.normalized()
	if !hasCanonical {
		return DecisionCreate, "story has no canonical content"
	}

	switch {
	case j.Difference < 0 || j.Difference > 100:
		return DecisionSkip, fmt.Sprintf("difference out of range: %.1f", j.Difference)
	case !j.HasNewInformation:
		return DecisionSkip, "no new information"
	case 100-j.Difference > t.Similarity:
		return DecisionSkip, fmt.Sprintf("%.1f%% already covered", 100-j.Difference)
	case j.Difference >= t.Update:
		return DecisionNewVersion, fmt.Sprintf("difference %.1f%% reaches version threshold %.0f%%", j.Difference, t.Update)
	default:
		return DecisionUpdate, fmt.Sprintf("difference %.1f%% with new information", j.Difference)
	}
}
