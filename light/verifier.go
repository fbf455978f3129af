package light

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	tmmath "github.com/tenderlight/tenderlight/libs/math"
	"github.com/tenderlight/tenderlight/types"
)

var (
	// DefaultTrustThreshold is the minimum fraction of the trusted next
	// validator set that must have signed a non-adjacent candidate.
	DefaultTrustThreshold = tmmath.Fraction{Numerator: 1, Denominator: 3}
)

// VerdictKind partitions verification outcomes.
type VerdictKind int

const (
	// VerdictSuccess: the candidate extends the trusted state.
	VerdictSuccess VerdictKind = iota
	// VerdictNotEnoughTrust: the candidate is internally valid but too few
	// trusted validators signed it; the caller should bisect.
	VerdictNotEnoughTrust
	// VerdictInvalid: the candidate can never be accepted against this
	// trusted state.
	VerdictInvalid
	// VerdictExpired: the trusted state or the candidate is outside the
	// trusting period; verification is not meaningful.
	VerdictExpired
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictSuccess:
		return "success"
	case VerdictNotEnoughTrust:
		return "not enough trust"
	case VerdictInvalid:
		return "invalid"
	case VerdictExpired:
		return "expired"
	default:
		return fmt.Sprintf("verdict(%d)", int(k))
	}
}

// Verdict is the result of a single verification attempt. Tally and Total are
// populated for VerdictNotEnoughTrust; Reason for VerdictInvalid.
type Verdict struct {
	Kind   VerdictKind
	Tally  int64
	Total  int64
	Reason error
}

func success() Verdict { return Verdict{Kind: VerdictSuccess} }
func expired() Verdict { return Verdict{Kind: VerdictExpired} }
func invalid(reason error) Verdict {
	return Verdict{Kind: VerdictInvalid, Reason: reason}
}
func notEnoughTrust(tally, total int64) Verdict {
	return Verdict{Kind: VerdictNotEnoughTrust, Tally: tally, Total: total}
}

// Options bounds a single verification: how stale the trust root may be, how
// far ahead of local time a header may claim to be, and what fraction of the
// trusted validators must vouch for a non-adjacent candidate.
type Options struct {
	TrustThreshold tmmath.Fraction
	TrustingPeriod time.Duration
	ClockDrift     time.Duration
}

// Validate rejects options outside the sound range. The trust threshold must
// lie in [1/3, 1] or skipping verification loses its security guarantee.
func (o Options) Validate() error {
	if o.TrustingPeriod <= 0 {
		return fmt.Errorf("trusting period must be positive, got %v", o.TrustingPeriod)
	}
	if o.ClockDrift < 0 {
		return fmt.Errorf("clock drift must not be negative, got %v", o.ClockDrift)
	}
	return ValidateTrustThreshold(o.TrustThreshold)
}

// ValidateTrustThreshold checks that 1/3 <= t <= 1.
func ValidateTrustThreshold(t tmmath.Fraction) error {
	if t.Denominator == 0 {
		return fmt.Errorf("trust threshold has zero denominator")
	}
	// 3*num >= den  <=>  num/den >= 1/3; num <= den  <=>  num/den <= 1
	if t.Numerator*3 < t.Denominator || t.Numerator > t.Denominator {
		return fmt.Errorf("trust threshold must be in [1/3, 1], got %v", t)
	}
	return nil
}

// HeaderExpired reports whether a header can no longer serve as a trust root
// at time now.
func HeaderExpired(h *types.SignedHeader, trustingPeriod time.Duration, now time.Time) bool {
	expirationTime := h.Time.Add(trustingPeriod)
	return !expirationTime.After(now)
}

// Verify checks whether candidate can be trusted given trusted. It is pure:
// the outcome depends only on its arguments. Checks run in a fixed order and
// the first failure decides the verdict.
//
// Adjacent candidates (trusted.Height+1) must carry exactly the validator set
// the trusted header announced. Non-adjacent candidates are accepted when
// validators holding more than TrustThreshold of the trusted next validator
// set's power signed them; otherwise the verdict is VerdictNotEnoughTrust and
// the caller is expected to bisect.
func Verify(trusted, candidate *types.LightBlock, opts Options, now time.Time) Verdict {
	if trusted == nil || candidate == nil {
		return invalid(fmt.Errorf("nil light block"))
	}

	// Trusting period: the candidate must not predate the window entirely,
	// and the trust root itself must still be inside it.
	if !candidate.Time.After(now.Add(-opts.TrustingPeriod - opts.ClockDrift)) {
		return expired()
	}
	if HeaderExpired(trusted.SignedHeader, opts.TrustingPeriod, now) {
		return expired()
	}

	if candidate.Height <= trusted.Height {
		return invalid(ErrNonIncreasingHeight{Got: candidate.Height, Trusted: trusted.Height})
	}
	if !candidate.Time.After(trusted.Time) {
		return invalid(ErrNonIncreasingTime{Got: candidate.Time, Trusted: trusted.Time})
	}
	if !candidate.Time.Before(now.Add(opts.ClockDrift)) {
		return invalid(ErrHeaderFromFuture{HeaderTime: candidate.Time, Now: now, Drift: opts.ClockDrift})
	}
	if candidate.ChainID != trusted.ChainID {
		return invalid(ErrChainIDMismatch{Got: candidate.ChainID, Want: trusted.ChainID})
	}

	// Internal consistency: validator set hashes, commit block id, and every
	// commit signature, plus 2/3 of the candidate's own set.
	if err := candidate.ValidateBasic(trusted.ChainID); err != nil {
		return invalid(err)
	}
	if err := candidate.ValidatorSet.VerifyCommitLight(
		trusted.ChainID, candidate.Commit.BlockID, candidate.Height, candidate.Commit,
	); err != nil {
		return invalid(err)
	}

	if candidate.Height == trusted.Height+1 {
		if !bytes.Equal(candidate.ValidatorsHash, trusted.NextValidatorsHash) {
			return invalid(ErrInvalidNextValidatorSet{
				Got:  candidate.ValidatorsHash,
				Want: trusted.NextValidatorsHash,
			})
		}
		return success()
	}

	// Skipping: measure the candidate's signers against the trusted next
	// validator set.
	err := trusted.NextValidators.VerifyCommitLightTrusting(
		trusted.ChainID, candidate.Commit, opts.TrustThreshold,
	)
	if err != nil {
		var insufficient types.ErrNotEnoughVotingPowerSigned
		if errors.As(err, &insufficient) {
			return notEnoughTrust(insufficient.Got, trusted.NextValidators.TotalVotingPower())
		}
		return invalid(err)
	}
	return success()
}

// VerifyAdjacent is Verify restricted to candidate.Height == trusted.Height+1.
func VerifyAdjacent(trusted, candidate *types.LightBlock, opts Options, now time.Time) Verdict {
	if candidate != nil && trusted != nil && candidate.Height != trusted.Height+1 {
		return invalid(fmt.Errorf("headers must be adjacent in height, got %d and %d",
			trusted.Height, candidate.Height))
	}
	return Verify(trusted, candidate, opts, now)
}

// VerifyNonAdjacent is Verify restricted to non-adjacent heights.
func VerifyNonAdjacent(trusted, candidate *types.LightBlock, opts Options, now time.Time) Verdict {
	if candidate != nil && trusted != nil && candidate.Height == trusted.Height+1 {
		return invalid(fmt.Errorf("headers must be non adjacent in height, got %d and %d",
			trusted.Height, candidate.Height))
	}
	return Verify(trusted, candidate, opts, now)
}
