package enums

import "fmt"

// MovementKind maps to the movement_kind_enum enum in Postgres.
type MovementKind string

const (
	MovementKindReserve    MovementKind = "reserve"
	MovementKindRelease    MovementKind = "release"
	MovementKindDeduct     MovementKind = "deduct"
	MovementKindReplenish  MovementKind = "replenish"
	MovementKindAdjustment MovementKind = "adjustment"
)

var validMovementKinds = []MovementKind{
	MovementKindReserve,
	MovementKindRelease,
	MovementKindDeduct,
	MovementKindReplenish,
	MovementKindAdjustment,
}

// String implements fmt.Stringer.
func (m MovementKind) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MovementKind.
func (m MovementKind) IsValid() bool {
	for _, candidate := range validMovementKinds {
		if candidate == m {
			return true
		}
	}
	return false
}

// AffectsOnHand reports whether movements of this kind change on_hand
// rather than only the reserved counter.
func (m MovementKind) AffectsOnHand() bool {
	switch m {
	case MovementKindDeduct, MovementKindReplenish, MovementKindAdjustment:
		return true
	default:
		return false
	}
}

// ParseMovementKind converts raw input into a MovementKind.
func ParseMovementKind(value string) (MovementKind, error) {
	for _, candidate := range validMovementKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement kind %q", value)
}
