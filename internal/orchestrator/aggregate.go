package orchestrator

import (
	"time"

	"github.com/rpattn/fleetquery/internal/domain"
)

// aggregate folds per-server results, in dispatch order, into one response.
// secondary is the optional comparison-side fetch; it counts toward the
// status but contributes no rows.
func aggregate(requestID string, results []domain.ServerResult, secondary *domain.ServerResult, cancelled bool, now time.Time) domain.QueryResponse {
	response := domain.QueryResponse{
		RequestID:     requestID,
		Results:       []domain.Row{},
		Errors:        []domain.QueryError{},
		ServerResults: make(map[string]domain.ServerResult, len(results)),
	}

	successes, failures := 0, 0
	record := func(result domain.ServerResult) {
		switch result.Status {
		case domain.ServerStatusSuccess:
			successes++
		case domain.ServerStatusError:
			failures++
			response.Errors = append(response.Errors, domain.QueryError{
				Server:    result.Server,
				Error:     result.Error,
				Timestamp: now,
			})
		}
	}

	for _, result := range results {
		record(result)
		if result.Status == domain.ServerStatusSuccess {
			response.Results = append(response.Results, result.Data...)
			response.TotalRows += result.Rows
		}
		summary := result
		summary.Data = nil
		response.ServerResults[result.Server] = summary
	}

	if secondary != nil {
		record(*secondary)
		summary := *secondary
		summary.Data = nil
		response.Secondary = &summary
	}

	response.Status = overallStatus(successes, failures, cancelled)
	return response
}

func overallStatus(successes, failures int, cancelled bool) domain.ExecutionState {
	switch {
	case cancelled:
		return domain.ExecutionStateCancelled
	case failures > 0 && successes == 0:
		return domain.ExecutionStateError
	case failures > 0:
		return domain.ExecutionStateCompletedWithErrors
	default:
		return domain.ExecutionStateCompleted
	}
}
