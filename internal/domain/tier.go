package domain

import "fmt"

// Tier is the closed set of permission levels a user can hold on an account.
// The tiers are orthogonal capability sets, not a hierarchy: POST_ONLY may
// write but not read.
type Tier int

const (
	TierViewOnly Tier = iota
	TierPostOnly
	TierCRUD
)

const (
	tierViewWire = "view"
	tierPostWire = "post"
	tierCRUDWire = "crud"
)

func (t Tier) String() string {
	switch t {
	case TierViewOnly:
		return tierViewWire
	case TierPostOnly:
		return tierPostWire
	case TierCRUD:
		return tierCRUDWire
	}
	return fmt.Sprintf("Tier(%d)", int(t))
}

// ParseTier maps the stored/wire representation back to the enum.
func ParseTier(s string) (Tier, error) {
	switch s {
	case tierViewWire:
		return TierViewOnly, nil
	case tierPostWire:
		return TierPostOnly, nil
	case tierCRUDWire:
		return TierCRUD, nil
	}
	return 0, fmt.Errorf("unknown permission tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Tier) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("permission tier must be a JSON string")
	}
	parsed, err := ParseTier(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Action is the closed set of operations the authorization engine decides on.
type Action string

const (
	ActionList     Action = "list"
	ActionRetrieve Action = "retrieve"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
)
