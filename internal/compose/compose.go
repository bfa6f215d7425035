// Package compose turns a window of classified, deduplicated pending images
// into an ordered sequence of batches. Windows keep peak memory bounded:
// the whole manifest is never batched up front.
package compose

import (
	"github.com/google/uuid"

	"github.com/sells-group/alttext-cli/internal/classify"
	"github.com/sells-group/alttext-cli/internal/model"
)

// DefaultCapacity is the grouped-batch member cap.
const DefaultCapacity = 8

// Entry is one unique pending image in manifest order, with its final
// classification. Deferred entries must be resolved before composing.
type Entry struct {
	Key    string
	Bucket classify.Bucket
}

// Window groups a window's Normal entries into grouped batches of up to
// capacity members, in manifest order, and emits every OversizedIndividual
// entry as a singleton batch after the grouped batches of the same window.
// Rejected entries never enter a batch.
func Window(entries []Entry, capacity int) []model.Batch {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	var grouped []model.Batch
	var singletons []model.Batch
	var members []string

	flush := func() {
		if len(members) == 0 {
			return
		}
		grouped = append(grouped, model.Batch{
			ID:      uuid.New().String(),
			Kind:    model.BatchGrouped,
			Members: members,
			State:   model.BatchPending,
		})
		members = nil
	}

	for _, e := range entries {
		switch e.Bucket {
		case classify.Normal:
			members = append(members, e.Key)
			if len(members) >= capacity {
				flush()
			}
		case classify.OversizedIndividual:
			singletons = append(singletons, model.Batch{
				ID:      uuid.New().String(),
				Kind:    model.BatchSingleton,
				Members: []string{e.Key},
				State:   model.BatchPending,
			})
		}
	}
	flush()

	return append(grouped, singletons...)
}
