package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/punchamoorthee/investops/internal/domain"
)

// grantMap is an in-memory GrantSource keyed by (user, account).
type grantMap struct {
	grants map[[2]int64]domain.Tier
	err    error
}

func (g *grantMap) GetTier(_ context.Context, userID, accountID int64) (domain.Tier, bool, error) {
	if g.err != nil {
		return 0, false, g.err
	}
	t, ok := g.grants[[2]int64{userID, accountID}]
	return t, ok, nil
}

func (g *grantMap) set(userID, accountID int64, tier domain.Tier) {
	if g.grants == nil {
		g.grants = map[[2]int64]domain.Tier{}
	}
	g.grants[[2]int64{userID, accountID}] = tier
}

func (g *grantMap) revoke(userID, accountID int64) {
	delete(g.grants, [2]int64{userID, accountID})
}

func caller(id int64) domain.Identity {
	return domain.Identity{UserID: id, Authenticated: true}
}

func TestDecisionTable(t *testing.T) {
	grants := &grantMap{}
	grants.set(1, 10, domain.TierViewOnly)
	grants.set(1, 11, domain.TierPostOnly)
	grants.set(1, 12, domain.TierCRUD)
	eng := NewEngine(grants)

	tests := []struct {
		name    string
		account string
		action  domain.Action
		want    Decision
	}{
		{"view-only retrieve", "10", domain.ActionRetrieve, Allow},
		{"view-only create", "10", domain.ActionCreate, Deny},
		{"view-only update", "10", domain.ActionUpdate, Deny},
		{"view-only delete", "10", domain.ActionDelete, Deny},

		{"post-only retrieve", "11", domain.ActionRetrieve, Deny},
		{"post-only create", "11", domain.ActionCreate, Allow},
		{"post-only update", "11", domain.ActionUpdate, Deny},
		{"post-only delete", "11", domain.ActionDelete, Deny},

		{"crud retrieve", "12", domain.ActionRetrieve, Allow},
		{"crud create", "12", domain.ActionCreate, Allow},
		{"crud update", "12", domain.ActionUpdate, Allow},
		{"crud delete", "12", domain.ActionDelete, Allow},

		{"no grant retrieve", "99", domain.ActionRetrieve, Deny},
		{"no grant create", "99", domain.ActionCreate, Deny},
		{"no grant update", "99", domain.ActionUpdate, Deny},
		{"no grant delete", "99", domain.ActionDelete, Deny},

		{"unknown action denies", "12", domain.Action("approve"), Deny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eng.Authorize(context.Background(), caller(1), tc.account, tc.action)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestListAlwaysAllowed(t *testing.T) {
	eng := NewEngine(&grantMap{})

	for _, id := range []domain.Identity{caller(1), {}} {
		got, err := eng.Authorize(context.Background(), id, "", domain.ActionList)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if got != Allow {
			t.Fatalf("list should always allow, got %s", got)
		}
	}
}

func TestUnauthenticatedDenied(t *testing.T) {
	grants := &grantMap{}
	grants.set(1, 10, domain.TierCRUD)
	eng := NewEngine(grants)

	got, err := eng.Authorize(context.Background(), domain.Identity{UserID: 1}, "10", domain.ActionRetrieve)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got != Deny {
		t.Fatal("unauthenticated identity must be denied")
	}
}

func TestMalformedAccountRefDenied(t *testing.T) {
	grants := &grantMap{}
	grants.set(1, 10, domain.TierCRUD)
	eng := NewEngine(grants)

	for _, ref := range []string{"", "abc", "10x", "-3", "0"} {
		got, err := eng.Authorize(context.Background(), caller(1), ref, domain.ActionRetrieve)
		if err != nil {
			t.Fatalf("Authorize(%q): %v", ref, err)
		}
		if got != Deny {
			t.Fatalf("ref %q should deny", ref)
		}
	}
}

func TestRevocationTakesEffectImmediately(t *testing.T) {
	grants := &grantMap{}
	grants.set(1, 10, domain.TierViewOnly)
	eng := NewEngine(grants)

	got, _ := eng.Authorize(context.Background(), caller(1), "10", domain.ActionRetrieve)
	if got != Allow {
		t.Fatal("expected allow before revocation")
	}

	grants.revoke(1, 10)

	got, _ = eng.Authorize(context.Background(), caller(1), "10", domain.ActionRetrieve)
	if got != Deny {
		t.Fatal("revoked grant must deny on the very next call")
	}
}

func TestGrantLookupErrorDenies(t *testing.T) {
	lookupErr := errors.New("store down")
	eng := NewEngine(&grantMap{err: lookupErr})

	got, err := eng.Authorize(context.Background(), caller(1), "10", domain.ActionRetrieve)
	if !errors.Is(err, lookupErr) {
		t.Fatalf("want lookup error, got %v", err)
	}
	if got != Deny {
		t.Fatal("lookup failure must deny")
	}
}

func TestAdminHasNoImplicitGrant(t *testing.T) {
	eng := NewEngine(&grantMap{})
	admin := domain.Identity{UserID: 7, Privileged: true, Authenticated: true}

	for _, action := range []domain.Action{domain.ActionRetrieve, domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete} {
		got, err := eng.Authorize(context.Background(), admin, "10", action)
		if err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		if got != Deny {
			t.Fatalf("admin without a grant should be denied %s", action)
		}
	}
}
