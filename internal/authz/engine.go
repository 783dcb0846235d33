// Package authz implements the tier-based authorization engine. It is a pure
// decision function over the current grant state: no caching, no side effects,
// one grant lookup per call.
package authz

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/investops/internal/domain"
)

var authzDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "investops_authz_decisions_total",
	Help: "Authorization decisions by action and outcome",
}, []string{"action", "outcome"})

// Decision is the engine's verdict. The zero value is Deny.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool { return d == Allow }

// GrantSource looks up the tier a user holds on an account. The second return
// is false when no grant exists.
type GrantSource interface {
	GetTier(ctx context.Context, userID, accountID int64) (domain.Tier, bool, error)
}

// Engine decides (identity, account, action) triples against a GrantSource.
type Engine struct {
	grants GrantSource
}

func NewEngine(grants GrantSource) *Engine {
	return &Engine{grants: grants}
}

// Authorize maps an (identity, accountRef, action) triple to Allow or Deny.
//
// list is always allowed; visibility of the listed collection is the
// repository's scoping responsibility, not a gate here. Every other action is
// denied unless the identity is authenticated, the account reference parses,
// and the (user, account) grant's tier permits the action. Missing state of
// any kind denies (fail closed). A non-nil error means the grant lookup
// itself failed; the decision is Deny in that case too.
func (e *Engine) Authorize(ctx context.Context, identity domain.Identity, accountRef string, action domain.Action) (Decision, error) {
	d, err := e.decide(ctx, identity, accountRef, action)
	authzDecisions.WithLabelValues(string(action), d.String()).Inc()
	return d, err
}

func (e *Engine) decide(ctx context.Context, identity domain.Identity, accountRef string, action domain.Action) (Decision, error) {
	if action == domain.ActionList {
		return Allow, nil
	}
	if !identity.Authenticated {
		return Deny, nil
	}

	accountID, err := ParseAccountRef(accountRef)
	if err != nil {
		return Deny, nil
	}

	tier, ok, err := e.grants.GetTier(ctx, identity.UserID, accountID)
	if err != nil {
		return Deny, err
	}
	if !ok {
		return Deny, nil
	}

	switch action {
	case domain.ActionRetrieve:
		if tier == domain.TierViewOnly || tier == domain.TierCRUD {
			return Allow, nil
		}
	case domain.ActionCreate:
		if tier == domain.TierPostOnly || tier == domain.TierCRUD {
			return Allow, nil
		}
	case domain.ActionUpdate, domain.ActionDelete:
		if tier == domain.TierCRUD {
			return Allow, nil
		}
	}
	return Deny, nil
}

// ParseAccountRef parses an external account reference. Malformed references
// (empty, non-numeric, non-positive) are an error so callers deny without
// touching the store.
func ParseAccountRef(ref string) (int64, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}
