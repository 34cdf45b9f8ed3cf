package worker

import (
	"context"
	"sync"

	"commwatch/internal/alerts"
)

// evaluation is the outcome of evaluating one alert: a result or an error,
// never both. One alert failing does not affect its siblings.
type evaluation struct {
	alert  *alerts.StoredAlert
	result *alerts.ProcessingResult
	err    error
}

// evaluateAll evaluates a communication against every alert. The first
// alert is evaluated alone to capture the oracle's cache hint; the rest run
// concurrently, each reusing that hint. Results come back in alert order,
// one slot per alert.
func (p *Processor) evaluateAll(ctx context.Context, activeAlerts []*alerts.StoredAlert, communication string) []evaluation {
	evaluations := make([]evaluation, len(activeAlerts))

	first := activeAlerts[0]
	result, cacheHint, err := p.oracle.Evaluate(ctx, &first.Definition, first.CurrentState, communication, "")
	evaluations[0] = evaluation{alert: first, result: result, err: err}

	if len(activeAlerts) == 1 {
		return evaluations
	}

	var wg sync.WaitGroup
	for i, alert := range activeAlerts[1:] {
		wg.Add(1)
		go func(slot int, a *alerts.StoredAlert) {
			defer wg.Done()
			result, _, err := p.oracle.Evaluate(ctx, &a.Definition, a.CurrentState, communication, cacheHint)
			evaluations[slot] = evaluation{alert: a, result: result, err: err}
		}(i+1, alert)
	}
	wg.Wait()

	return evaluations
}
