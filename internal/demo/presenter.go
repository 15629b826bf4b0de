package demo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/centraunit/modkit"
)

// CounterView is what a screen renders.
type CounterView struct {
	Label string `json:"label"`
	Value int    `json:"value"`
	AtMax bool   `json:"at_max"`
}

// CounterPresenter adapts the counter for one screen. It keeps no domain
// state of its own.
type CounterPresenter struct {
	counter *CounterService
	history *HistoryRepository
	limits  *LimitsService
	logger  *zap.Logger
}

func newCounterPresenter(deps *modkit.Deps) (*CounterPresenter, error) {
	return &CounterPresenter{
		counter: modkit.MustDep[*CounterService](deps),
		history: modkit.MustDep[*HistoryRepository](deps),
		limits:  modkit.MustDep[*LimitsService](deps),
		logger:  deps.Logger(),
	}, nil
}

// View returns the current screen model.
func (p *CounterPresenter) View() CounterView {
	v := p.counter.Value()
	return CounterView{
		Label: p.limits.Label,
		Value: v,
		AtMax: !p.limits.Allows(p.limits.Next(v)),
	}
}

// HandleIncrement is the intent for the increment button.
func (p *CounterPresenter) HandleIncrement(ctx context.Context) modkit.Result[CounterView] {
	return modkit.Present(ctx, p.logger, func(ctx context.Context) (CounterView, error) {
		if _, err := p.counter.Increment(ctx); err != nil {
			return CounterView{}, err
		}
		return p.View(), nil
	})
}

// HandleAdd is the intent for a free-form adjustment.
func (p *CounterPresenter) HandleAdd(ctx context.Context, n int) modkit.Result[CounterView] {
	return modkit.Present(ctx, p.logger, func(ctx context.Context) (CounterView, error) {
		if _, err := p.counter.Add(ctx, n); err != nil {
			return CounterView{}, err
		}
		return p.View(), nil
	})
}

// HandleReset clears the counter and its history.
func (p *CounterPresenter) HandleReset(ctx context.Context) modkit.Result[CounterView] {
	return modkit.Present(ctx, p.logger, func(ctx context.Context) (CounterView, error) {
		if err := p.counter.Reset(ctx); err != nil {
			return CounterView{}, err
		}
		if err := p.history.Clear(ctx); err != nil {
			return CounterView{}, fmt.Errorf("clear history: %w", err)
		}
		return p.View(), nil
	})
}

// History returns the recorded values.
func (p *CounterPresenter) History(ctx context.Context) modkit.Result[[]int] {
	return modkit.Present(ctx, p.logger, p.history.Values)
}
