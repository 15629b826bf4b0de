package demo

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/centraunit/modkit"
)

// LoggerMediator records counter changes into the history repository.
// Neither CounterService nor HistoryRepository refers to it.
type LoggerMediator struct {
	history *HistoryRepository
	logger  *zap.Logger

	mu       sync.Mutex
	observed []int
}

func newLoggerMediator(deps *modkit.Deps) (*LoggerMediator, error) {
	counter, err := modkit.Dep[*CounterService](deps)
	if err != nil {
		return nil, err
	}
	history, err := modkit.Dep[*HistoryRepository](deps)
	if err != nil {
		return nil, err
	}
	m := &LoggerMediator{history: history, logger: deps.Logger()}
	if _, err := counter.Changes().Listen(deps, m.onChanged); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LoggerMediator) onChanged(ctx context.Context, change modkit.Change[int]) error {
	m.mu.Lock()
	m.observed = append(m.observed, change.Current)
	m.mu.Unlock()

	m.logger.Info("counter changed",
		zap.Int("previous", change.Previous),
		zap.Int("current", change.Current))
	return m.history.Append(ctx, change.Current)
}

// Observed returns the values seen so far, in delivery order.
func (m *LoggerMediator) Observed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.observed)
}
