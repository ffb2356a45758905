package task

import (
	"time"
)

type executionOutcome int

const (
	executionSucceeded executionOutcome = iota
	executionFailed
	executionCancelled
)

// ExecutorMetrics aggregates execution counts and timings for one executor.
// Averages use an incremental mean.
type ExecutorMetrics struct {
	TotalExecutions      int64         `json:"totalExecutions"`
	SuccessfulExecutions int64         `json:"successfulExecutions"`
	FailedExecutions     int64         `json:"failedExecutions"`
	CancelledExecutions  int64         `json:"cancelledExecutions"`
	AverageExecutionTime float64       `json:"averageExecutionTime"` // milliseconds
	LastExecutionTime    time.Duration `json:"lastExecutionTime"`
}

func (m *Manager) recordExecution(executor string, elapsed time.Duration, outcome executionOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em := m.execMetrics[executor]
	if em == nil {
		em = &ExecutorMetrics{}
		m.execMetrics[executor] = em
	}
	n := float64(em.TotalExecutions)
	em.AverageExecutionTime = (em.AverageExecutionTime*n + float64(elapsed.Milliseconds())) / (n + 1)
	em.TotalExecutions++
	em.LastExecutionTime = elapsed
	switch outcome {
	case executionSucceeded:
		em.SuccessfulExecutions++
	case executionFailed:
		em.FailedExecutions++
	case executionCancelled:
		em.CancelledExecutions++
	}
}

// GetExecutorMetrics returns a copy of one executor's metrics.
func (m *Manager) GetExecutorMetrics(executor string) (ExecutorMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	em, ok := m.execMetrics[executor]
	if !ok {
		return ExecutorMetrics{}, false
	}
	return *em, true
}
