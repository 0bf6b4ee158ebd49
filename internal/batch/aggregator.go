package batch

import (
	"github.com/ternarybob/fabrica/internal/models"
)

// Counts is a recomputed batch-level summary derived purely from subtask
// states, never incremented in place.
type Counts struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Terminal  int
	Cost      float64
	Progress  int
}

// Aggregator recomputes batch counters from subtask records. Re-running it on
// the same snapshot always yields the same result, so terminal transitions can
// be applied in any completion order.
type Aggregator struct{}

// NewAggregator returns a stateless aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Recompute derives counters from the full subtask set. Cancelled subtasks
// contribute zero cost. Progress is the mean of per-subtask progress, with
// terminal subtasks counted at 100.
func (a *Aggregator) Recompute(subtasks []*models.SubTask) Counts {
	counts := Counts{Total: len(subtasks)}

	progressSum := 0
	for _, st := range subtasks {
		switch st.Status {
		case models.SubTaskStatusCompleted:
			counts.Completed++
			counts.Cost += st.Cost
		case models.SubTaskStatusFailed:
			counts.Failed++
		case models.SubTaskStatusCancelled:
			counts.Cancelled++
		}
		if st.Status.IsTerminal() {
			counts.Terminal++
			progressSum += 100
		} else {
			progressSum += st.Progress
		}
	}

	if counts.Total > 0 {
		counts.Progress = progressSum / counts.Total
	}
	return counts
}

// Apply writes recomputed counters and the derived status onto the batch
// record. The caller persists the updated batch.
func (a *Aggregator) Apply(task *models.BatchTask, subtasks []*models.SubTask, cancelRequested bool) Counts {
	counts := a.Recompute(subtasks)

	task.CompletedSubtasks = counts.Completed
	task.FailedSubtasks = counts.Failed
	task.TotalCost = counts.Cost
	task.Status = models.DeriveBatchStatus(subtasks, cancelRequested)
	task.Touch()

	return counts
}
