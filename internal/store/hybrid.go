package store

import (
	"context"
	"time"

	"github.com/you/actionq/internal/action"
)

// Hybrid unifies the legacy and canonical stores while a migration is in
// flight. Reads that would touch the legacy store migrate the matching rows
// first and then answer from the canonical store, so callers never observe a
// stale pre-migration copy or a double-counted action. All writes land in the
// canonical store only.
type Hybrid struct {
	primary   Store
	secondary Store
	migrator  Migrator
}

func NewHybrid(primary, secondary Store, migrator Migrator) *Hybrid {
	return &Hybrid{primary: primary, secondary: secondary, migrator: migrator}
}

// Find checks the legacy store first; any match is migrated immediately, after
// which the canonical store holds the authoritative row to answer from.
func (h *Hybrid) Find(ctx context.Context, hook string, f Filter) (int64, error) {
	unmigrated, err := h.secondary.Find(ctx, hook, f)
	if err != nil {
		return 0, err
	}
	if unmigrated != 0 {
		h.migrator.MigrateActions(ctx, []int64{unmigrated})
	}
	return h.primary.Find(ctx, hook, f)
}

func (h *Hybrid) Query(ctx context.Context, q Query) ([]int64, error) {
	unmigrated, err := h.secondary.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(unmigrated) > 0 {
		h.migrator.MigrateActions(ctx, unmigrated)
	}
	return h.primary.Query(ctx, q)
}

// StakeClaim uses a legacy-side claim only to identify due candidates: the
// members are migrated, the legacy claim is released, and the canonical store
// issues the claim the caller actually holds.
func (h *Hybrid) StakeClaim(ctx context.Context, maxActions int, before time.Time) (*action.Claim, error) {
	claim, err := h.secondary.StakeClaim(ctx, maxActions, before)
	if err != nil {
		return nil, err
	}
	if len(claim.ActionIDs) > 0 {
		h.migrator.MigrateActions(ctx, claim.ActionIDs)
	}
	if err := h.secondary.ReleaseClaim(ctx, claim); err != nil {
		return nil, err
	}
	return h.primary.StakeClaim(ctx, maxActions, before)
}

func (h *Hybrid) Save(ctx context.Context, a *action.Action, date *time.Time) (int64, error) {
	return h.primary.Save(ctx, a, date)
}

func (h *Hybrid) Fetch(ctx context.Context, id int64) (*action.Action, error) {
	return h.primary.Fetch(ctx, id)
}

func (h *Hybrid) ReleaseClaim(ctx context.Context, c *action.Claim) error {
	return h.primary.ReleaseClaim(ctx, c)
}

func (h *Hybrid) Unclaim(ctx context.Context, id int64) error {
	return h.primary.Unclaim(ctx, id)
}

func (h *Hybrid) LogExecution(ctx context.Context, id int64) error {
	return h.primary.LogExecution(ctx, id)
}

func (h *Hybrid) MarkComplete(ctx context.Context, id int64) error {
	return h.primary.MarkComplete(ctx, id)
}

func (h *Hybrid) MarkFailure(ctx context.Context, id int64) error {
	return h.primary.MarkFailure(ctx, id)
}

func (h *Hybrid) Cancel(ctx context.Context, id int64) error {
	return h.primary.Cancel(ctx, id)
}

func (h *Hybrid) Delete(ctx context.Context, id int64) error {
	return h.primary.Delete(ctx, id)
}

func (h *Hybrid) Status(ctx context.Context, id int64) (action.Status, error) {
	return h.primary.Status(ctx, id)
}

func (h *Hybrid) Date(ctx context.Context, id int64) (time.Time, error) {
	return h.primary.Date(ctx, id)
}

func (h *Hybrid) DateGMT(ctx context.Context, id int64) (time.Time, error) {
	return h.primary.DateGMT(ctx, id)
}

func (h *Hybrid) ClaimCount(ctx context.Context) (int, error) {
	return h.primary.ClaimCount(ctx)
}

func (h *Hybrid) ActionsByClaim(ctx context.Context, claimID int64) ([]int64, error) {
	return h.primary.ActionsByClaim(ctx, claimID)
}
