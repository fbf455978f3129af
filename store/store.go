package store

import (
	"errors"

	"github.com/tenderlight/tenderlight/types"
)

// ErrLightBlockNotFound is returned when a store does not have the
// requested light block.
var ErrLightBlockNotFound = errors.New("light block not found")

// Status is the verification state a stored light block is in.
//
// Blocks enter the store Unverified, the verifier promotes them to Verified,
// seeding (or an explicit operator act) yields Trusted, and a verification
// failure marks Failed. Failed is terminal.
type Status byte

const (
	StatusUnverified Status = iota + 1
	StatusVerified
	StatusTrusted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusUnverified:
		return "unverified"
	case StatusVerified:
		return "verified"
	case StatusTrusted:
		return "trusted"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= StatusUnverified && s <= StatusFailed
}

// Store persistently stores light blocks, keyed by height and status.
//
// A given height holds at most one block per status. Writes must be
// serialisable (one writer at a time) and reads must observe a committed
// prefix.
type Store interface {
	// Get returns the light block at the given height with the given status.
	//
	// height must be > 0.
	//
	// If no such block exists, ErrLightBlockNotFound is returned.
	Get(height int64, status Status) (*types.LightBlock, error)

	// Insert saves a light block under the given status.
	//
	// height must be > 0.
	Insert(lb *types.LightBlock, status Status) error

	// Update moves the stored block to a new status. Valid transitions are
	// Unverified -> Verified, Verified -> Trusted, and anything -> Failed;
	// Failed is terminal and all other transitions are rejected.
	Update(lb *types.LightBlock, newStatus Status) error

	// Delete removes the light block at the given height and status, if any.
	Delete(height int64, status Status) error

	// Highest returns the stored light block with the greatest height and the
	// given status.
	//
	// If the store holds no block with that status, ErrLightBlockNotFound is
	// returned.
	Highest(status Status) (*types.LightBlock, error)

	// Lowest returns the stored light block with the smallest height and the
	// given status.
	//
	// If the store holds no block with that status, ErrLightBlockNotFound is
	// returned.
	Lowest(status Status) (*types.LightBlock, error)

	// All returns all light blocks with the given status, ordered by
	// ascending height. The returned slice is a snapshot.
	All(status Status) ([]*types.LightBlock, error)

	// Prune removes the oldest light blocks with the given status until at
	// most size remain.
	Prune(size uint16, status Status) error

	// Size returns the number of stored light blocks across all statuses.
	Size() uint16
}

// ValidTransition reports whether a stored block may move from to the new
// status.
func ValidTransition(from, to Status) bool {
	switch {
	case from == to:
		return false
	case from == StatusFailed:
		// terminal
		return false
	case to == StatusFailed:
		return true
	case from == StatusUnverified && to == StatusVerified:
		return true
	case from == StatusVerified && to == StatusTrusted:
		return true
	default:
		return false
	}
}
