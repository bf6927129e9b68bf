package migration

import (
	"context"
	"time"

	"github.com/you/actionq/internal/action"
	"github.com/you/actionq/internal/store"
)

// BatchFetcher selects the next migration candidates from the source store in
// the same priority order the legacy store would have served them: due and
// unclaimed first, then future and unclaimed, then terminal actions. Each
// tier fills before the next is consulted.
type BatchFetcher struct {
	source store.Store
	now    func() time.Time
}

func NewBatchFetcher(source store.Store) *BatchFetcher {
	return &BatchFetcher{source: source, now: time.Now}
}

func (f *BatchFetcher) Fetch(ctx context.Context, batchSize int) ([]int64, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	now := f.now().UTC()
	seen := map[int64]struct{}{}
	var ids []int64

	add := func(found []int64) {
		for _, id := range found {
			if _, dup := seen[id]; dup {
				continue
			}
			if len(ids) >= batchSize {
				return
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	tiers := []store.Query{
		{Status: action.StatusPending, Claimed: store.Unclaimed(), Date: &now, DateComparator: "<="},
		{Status: action.StatusPending, Claimed: store.Unclaimed(), Date: &now, DateComparator: ">"},
		{Status: action.StatusComplete},
		{Status: action.StatusFailed},
		{Status: action.StatusCanceled},
	}
	for _, q := range tiers {
		if len(ids) >= batchSize {
			break
		}
		q.Limit = batchSize - len(ids)
		found, err := f.source.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		add(found)
	}
	return ids, nil
}
