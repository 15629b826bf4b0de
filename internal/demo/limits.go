package demo

import (
	"fmt"

	"github.com/centraunit/modkit"
)

// LimitsService holds the counter policy read from settings:
//
//	settings:
//	  counter:
//	    step: 1     # increment size
//	    max: 0      # upper bound, 0 for none
//	    label: Clicks
type LimitsService struct {
	Step  int
	Max   int
	Label string
}

func newLimitsService(deps *modkit.Deps) (*LimitsService, error) {
	s := deps.Settings()
	l := &LimitsService{Step: 1, Label: "Count"}
	if s.Exists("counter.step") {
		l.Step = s.Int("counter.step")
	}
	if s.Exists("counter.max") {
		l.Max = s.Int("counter.max")
	}
	if s.Exists("counter.label") {
		l.Label = s.String("counter.label")
	}
	if l.Step <= 0 {
		return nil, fmt.Errorf("counter.step must be positive, got %d", l.Step)
	}
	return l, nil
}

// Next returns the value after one step from current.
func (l *LimitsService) Next(current int) int {
	return current + l.Step
}

// Allows reports whether value is within the configured maximum.
func (l *LimitsService) Allows(value int) bool {
	return l.Max <= 0 || value <= l.Max
}
