package media

import (
	"context"

	"meshcall/internal/core/domain"
)

// StaticClassifier reports a fixed network condition, usually from config.
type StaticClassifier struct {
	Condition domain.NetworkCondition
}

func (s StaticClassifier) Classify(context.Context) domain.NetworkCondition {
	return s.Condition
}
