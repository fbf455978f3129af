package light

import (
	"errors"
	"fmt"
	"time"

	"github.com/tenderlight/tenderlight/store"
	"github.com/tenderlight/tenderlight/types"
)

var (
	// ErrNoPrimary is returned when a client is constructed without a primary
	// provider.
	ErrNoPrimary = errors.New("no primary provider")

	// ErrNoWitnesses is returned when a client is constructed without any
	// witness providers.
	ErrNoWitnesses = errors.New("no witnesses connected; cannot detect forks")

	// ErrNoWitnessesLeft is returned when all witnesses have been dropped or
	// marked faulty during a divergence check, leaving nothing to cross-check
	// the primary against.
	ErrNoWitnessesLeft = errors.New("no witnesses left to cross-check against")

	// ErrNoInitialTrustedState is returned when the client is started from a
	// store that contains no trusted block.
	ErrNoInitialTrustedState = errors.New("no initial trusted state in store")

	// ErrChannelDisconnected is returned when a witness task terminates
	// without delivering its result.
	ErrChannelDisconnected = errors.New("witness task terminated without a result")

	// ErrMissingLastBlockID is returned when a header lacks the reference to
	// its predecessor, which makes backward linkage impossible to check.
	ErrMissingLastBlockID = errors.New("header is missing last block id")
)

// ErrForkDetected means conflicting, internally valid headers were observed
// for the same height. The client halts; evidence has already been submitted
// to the listed peers' counterparts.
type ErrForkDetected struct {
	Peers []types.PeerID
}

func (e ErrForkDetected) Error() string {
	return fmt.Sprintf("fork detected, reported by witnesses %v", e.Peers)
}

// ErrNoTrustedState is returned when the store holds no block with the given
// status where one was required.
type ErrNoTrustedState struct {
	Status store.Status
}

func (e ErrNoTrustedState) Error() string {
	return fmt.Sprintf("no %s block in store", e.Status)
}

// ErrTargetLowerThanTrustedState is returned when the requested height is at
// or below the latest trusted height but the store has no usable block there.
type ErrTargetLowerThanTrustedState struct {
	Target  int64
	Trusted int64
}

func (e ErrTargetLowerThanTrustedState) Error() string {
	return fmt.Sprintf("target height %d is lower than trusted height %d and is not in the store",
		e.Target, e.Trusted)
}

// ErrTrustedStateOutsideTrustingPeriod is terminal: the trust root has aged
// out and the operator must re-seed trust from a fresh source.
type ErrTrustedStateOutsideTrustingPeriod struct {
	TrustedBlock   *types.LightBlock
	TrustingPeriod time.Duration
}

func (e ErrTrustedStateOutsideTrustingPeriod) Error() string {
	return fmt.Sprintf("trusted block at height %d (time %v) is outside the %v trusting period",
		e.TrustedBlock.Height, e.TrustedBlock.Time, e.TrustingPeriod)
}

// ErrBisectionFailed is returned when the gap between the trusted and the
// candidate block cannot be narrowed any further and verification still does
// not succeed.
type ErrBisectionFailed struct {
	Low  int64
	High int64
}

func (e ErrBisectionFailed) Error() string {
	return fmt.Sprintf("bisection failed: no pivot between heights %d and %d", e.Low, e.High)
}

// ErrInvalidLightBlock means the candidate failed verification. The candidate
// has been stored as failed and the call is not retried.
type ErrInvalidLightBlock struct {
	Reason error
}

func (e ErrInvalidLightBlock) Error() string {
	return fmt.Sprintf("invalid light block: %v", e.Reason)
}

func (e ErrInvalidLightBlock) Unwrap() error { return e.Reason }

// ErrInvalidAdjacentHeaders is returned when two consecutive headers in a
// trace do not link to each other.
type ErrInvalidAdjacentHeaders struct {
	First  *types.SignedHeader
	Second *types.SignedHeader
}

func (e ErrInvalidAdjacentHeaders) Error() string {
	return fmt.Sprintf("headers at heights %d and %d are not adjacent or do not link",
		e.First.Height, e.Second.Height)
}

// ErrStoreBackend wraps a failure of the underlying light block store.
type ErrStoreBackend struct {
	Reason error
}

func (e ErrStoreBackend) Error() string {
	return fmt.Sprintf("store backend failure: %v", e.Reason)
}

func (e ErrStoreBackend) Unwrap() error { return e.Reason }

// Verification failure reasons, surfaced inside ErrInvalidLightBlock.

// ErrNonIncreasingHeight is part of a verdict when the candidate's height is
// not above the trusted height.
type ErrNonIncreasingHeight struct {
	Got     int64
	Trusted int64
}

func (e ErrNonIncreasingHeight) Error() string {
	return fmt.Sprintf("expected height above %d, got %d", e.Trusted, e.Got)
}

// ErrNonIncreasingTime is part of a verdict when the candidate's time is not
// after the trusted header's time.
type ErrNonIncreasingTime struct {
	Got     time.Time
	Trusted time.Time
}

func (e ErrNonIncreasingTime) Error() string {
	return fmt.Sprintf("expected header time after %v, got %v", e.Trusted, e.Got)
}

// ErrHeaderFromFuture is part of a verdict when the candidate's time exceeds
// local time plus the allowed clock drift.
type ErrHeaderFromFuture struct {
	HeaderTime time.Time
	Now        time.Time
	Drift      time.Duration
}

func (e ErrHeaderFromFuture) Error() string {
	return fmt.Sprintf("header time %v is from the future (now %v, drift %v)",
		e.HeaderTime, e.Now, e.Drift)
}

// ErrChainIDMismatch is part of a verdict when the candidate belongs to a
// different chain than the trusted block.
type ErrChainIDMismatch struct {
	Got  string
	Want string
}

func (e ErrChainIDMismatch) Error() string {
	return fmt.Sprintf("header belongs to chain %q, not %q", e.Got, e.Want)
}

// ErrInvalidNextValidatorSet is part of a verdict when an adjacent candidate's
// validator set hash does not match the trusted block's next validators hash.
type ErrInvalidNextValidatorSet struct {
	Got  []byte
	Want []byte
}

func (e ErrInvalidNextValidatorSet) Error() string {
	return fmt.Sprintf("expected next validator set hash %X, got %X", e.Want, e.Got)
}
