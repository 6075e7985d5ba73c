// Package dedupe decides whether a submission repeats an earlier successful run.
package dedupe

import (
	"context"
	"fmt"

	"threadify/internal/model"
)

// Result is recomputed per submission and never persisted.
type Result struct {
	IsDuplicate   bool
	PreviousRunID int64
	ShouldBlock   bool
}

// Lookup finds the most recent run for (account, canonicalURL) whose status is
// completed or approved. found is false when there is none.
type Lookup interface {
	LatestSuccessfulRun(ctx context.Context, accountID int64, canonicalURL string) (run model.Run, found bool, err error)
}

// CountsAsDuplicate reports whether a prior run in status s blocks or warns.
func CountsAsDuplicate(s model.RunStatus) bool {
	return s == model.StatusCompleted || s == model.StatusApproved
}

// Decide applies the policy: no match never blocks, review never blocks,
// auto blocks unless forced.
func Decide(previousRunID int64, found bool, mode model.Mode, force bool) Result {
	if !found {
		return Result{}
	}
	return Result{
		IsDuplicate:   true,
		PreviousRunID: previousRunID,
		ShouldBlock:   mode == model.ModeAuto && !force,
	}
}

// Detector binds the policy to a Lookup.
type Detector struct {
	Lookup Lookup
}

// New returns a Detector backed by l.
func New(l Lookup) *Detector { return &Detector{Lookup: l} }

// Check looks up prior runs and applies Decide.
func (d *Detector) Check(ctx context.Context, accountID int64, canonicalURL string, mode model.Mode, force bool) (Result, error) {
	run, found, err := d.Lookup.LatestSuccessfulRun(ctx, accountID, canonicalURL)
	if err != nil {
		return Result{}, fmt.Errorf("duplicate lookup: %w", err)
	}
	return Decide(run.ID, found, mode, force), nil
}
