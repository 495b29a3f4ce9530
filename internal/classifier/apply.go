package classifier

import (
	"context"
	"fmt"
	"sort"

	"dayroll/internal/models"

	"github.com/rs/zerolog"
)

// Replacer stores a whole day at once.
type Replacer interface {
	ReplaceTasks(ctx context.Context, tasks []models.Task, day models.Day) (int, error)
}

// Reorderer rewrites a card in quadrant order.
type Reorderer struct {
	store  Replacer
	logger *zerolog.Logger
}

func NewReorderer(store Replacer, logger *zerolog.Logger) *Reorderer {
	return &Reorderer{store: store, logger: logger}
}

// ApplyClassification classifies every task of card, rewrites its priority
// from the quadrant and stores the card in bucket order.
func (r *Reorderer) ApplyClassification(ctx context.Context, card models.TaskCard) (models.TaskCard, []Classification, error) {
	results := make([]Classification, len(card.Tasks))
	tasks := make([]models.Task, len(card.Tasks))
	for idx, t := range card.Tasks {
		c := Classify(t, card.Tasks)
		t.Priority = c.Quadrant.Priority()
		results[idx] = c
		tasks[idx] = t
	}

	order := make(map[models.Quadrant]int, len(models.Quadrants))
	for i, q := range models.Quadrants {
		order[q] = i
	}
	perm := make([]int, len(tasks))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		ca, cb := results[perm[a]], results[perm[b]]
		if order[ca.Quadrant] != order[cb.Quadrant] {
			return order[ca.Quadrant] < order[cb.Quadrant]
		}
		return ca.Urgency+ca.Importance > cb.Urgency+cb.Importance
	})

	sortedTasks := make([]models.Task, len(tasks))
	sortedResults := make([]Classification, len(results))
	for i, p := range perm {
		sortedTasks[i] = tasks[p]
		sortedResults[i] = results[p]
	}

	if _, err := r.store.ReplaceTasks(ctx, sortedTasks, card.Date); err != nil {
		return models.TaskCard{}, nil, fmt.Errorf("store classified card: %w", err)
	}

	if r.logger != nil {
		r.logger.Debug().Str("day", card.Date.String()).Int("tasks", len(sortedTasks)).Msg("card classified")
	}
	return newBucketCard(card.Date, sortedTasks), sortedResults, nil
}

// newBucketCard keeps the bucket order instead of re-sorting.
func newBucketCard(day models.Day, tasks []models.Task) models.TaskCard {
	completed := len(tasks) > 0
	for _, t := range tasks {
		if !t.Completed {
			completed = false
			break
		}
	}
	for i := range tasks {
		tasks[i].CurrentDate = day
	}
	return models.TaskCard{Date: day, Tasks: tasks, Completed: completed}
}
