// Package quota evaluates per-user subscription tiers and periodic counters
// to admit or reject new work. Admit is read-only apart from the periodic
// reset; counters only move on terminal success, so failed attempts never
// burn quota.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
	"github.com/wasmforge/wasmforge/internal/logger"
)

// Action is a quota-gated operation.
type Action string

// Gated actions
const (
	// ActionCompile builds source into WASM
	ActionCompile Action = "compile"
	// ActionDeploy publishes a contract on chain
	ActionDeploy Action = "deploy"
	// ActionFunctionTest invokes a deployed contract function
	ActionFunctionTest Action = "function_test"
)

// Period is the rolling counter window. Counters reset on the first Admit
// after the window expires.
const Period = 30 * 24 * time.Hour

// ExceededError reports a rejected admission with the observed counter state.
type ExceededError struct {
	Action  Action
	Current int
	Limit   int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("QuotaExceeded: %s count %d of %d", e.Action, e.Current, e.Limit)
}

// tierLimit returns the limit for an action at a tier. UnboundedLimit means
// no cap.
func tierLimit(tier models.Tier, action Action) int {
	switch action {
	case ActionCompile:
		return models.UnboundedLimit
	case ActionDeploy:
		if tier == models.TierFree {
			return 5
		}
		return models.UnboundedLimit
	case ActionFunctionTest:
		switch tier {
		case models.TierFree:
			return 2
		case models.TierMid:
			return 5
		default:
			return models.UnboundedLimit
		}
	}
	return 0
}

// Gate admits or rejects work against a user's tier and counters.
type Gate struct {
	users *repos.UserRepository
	now   func() time.Time
}

// NewGate creates a quota gate.
func NewGate(users *repos.UserRepository) *Gate {
	return &Gate{users: users, now: time.Now}
}

// NewGateWithClock creates a gate with an injected clock. Used by tests.
func NewGateWithClock(users *repos.UserRepository, now func() time.Time) *Gate {
	return &Gate{users: users, now: now}
}

// Admit checks whether the user may perform the action. It first applies the
// periodic reset, then compares the counter to the tier limit. Admit never
// increments; increments happen on terminal success only.
func (g *Gate) Admit(ctx context.Context, user *models.User, action Action) error {
	if err := g.maybeReset(ctx, user); err != nil {
		// A failed reset must not admit stale counters silently; reject as
		// transient and let the caller retry.
		return fmt.Errorf("quota reset failed: %w", err)
	}

	limit := tierLimit(user.Tier, action)
	if limit == models.UnboundedLimit {
		return nil
	}

	current := g.counter(user, action)
	if current < limit {
		return nil
	}
	return &ExceededError{Action: action, Current: current, Limit: limit}
}

// maybeReset zeroes the counters and restarts the window when 30 days have
// passed since the last reset.
func (g *Gate) maybeReset(ctx context.Context, user *models.User) error {
	now := g.now()
	resetAt := user.DeployResetAt
	if user.FunctionTestResetAt.Before(resetAt) || resetAt.IsZero() {
		if !user.FunctionTestResetAt.IsZero() {
			resetAt = user.FunctionTestResetAt
		}
	}
	if resetAt.IsZero() {
		// First check ever: start the window now without touching counts.
		user.DeployResetAt = now
		user.FunctionTestResetAt = now
		return g.users.Update(ctx, user)
	}
	if now.Sub(resetAt) < Period {
		return nil
	}

	logger.InfoWithFields("resetting quota counters", map[string]interface{}{
		"user_id":  user.ID,
		"reset_at": resetAt,
	})
	if err := g.users.ResetCounters(ctx, user.ID, now); err != nil {
		return err
	}
	user.DeployCount = 0
	user.FunctionTestCount = 0
	user.DeployResetAt = now
	user.FunctionTestResetAt = now
	return nil
}

func (g *Gate) counter(user *models.User, action Action) int {
	switch action {
	case ActionDeploy:
		return user.DeployCount
	case ActionFunctionTest:
		return user.FunctionTestCount
	default:
		return 0
	}
}
