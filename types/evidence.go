package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/tenderlight/tenderlight/crypto"
)

// Evidence is a generic type for evidence of validator misbehaviour.
type Evidence interface {
	Height() int64   // height of the infraction
	Hash() []byte    // unique identifier of the evidence
	String() string  // string format of the evidence
	Time() time.Time // time of the infraction
	ValidateBasic() error
}

// LightClientAttackEvidence is the proof a light client holds after observing
// two conflicting, internally valid header chains for the same height: the
// block obtained from the peer deemed faulty, anchored at the last height the
// two chains agreed on.
type LightClientAttackEvidence struct {
	ConflictingBlock *LightBlock `json:"conflicting_block"`
	CommonHeight     int64       `json:"common_height"`

	// metadata about the common block, so a full node can look up the
	// validators that were bonded at the time
	Timestamp        time.Time `json:"timestamp"`
	TotalVotingPower int64     `json:"total_voting_power"`
}

var _ Evidence = &LightClientAttackEvidence{}

// Height returns the height of the infraction: the common height from which
// the conflicting chain forked off.
func (l *LightClientAttackEvidence) Height() int64 {
	return l.CommonHeight
}

// Time returns the time of the common block.
func (l *LightClientAttackEvidence) Time() time.Time {
	return l.Timestamp
}

// Hash returns an identifier of the evidence, unique per
// (conflicting header, common height) pair.
func (l *LightClientAttackEvidence) Hash() []byte {
	bz := make([]byte, 0, crypto.HashSize+8)
	bz = append(bz, l.ConflictingBlock.Hash()...)
	bz = append(bz, headerFieldBytes(l.CommonHeight)...)
	return crypto.Checksum(bz)
}

// ConflictingHeaderIsInvalid takes a trusted header and matches it against
// the conflicting header to determine whether the conflicting header was the
// product of a valid state transition or not. If it is then all the
// deterministic fields of the header should be the same. If not, it is an
// invalid header and constitutes a lunatic attack.
func (l *LightClientAttackEvidence) ConflictingHeaderIsInvalid(trustedHeader *Header) bool {
	return !trustedHeader.ValidatorsHash.Equal(l.ConflictingBlock.ValidatorsHash) ||
		!trustedHeader.NextValidatorsHash.Equal(l.ConflictingBlock.NextValidatorsHash) ||
		!trustedHeader.ConsensusHash.Equal(l.ConflictingBlock.ConsensusHash) ||
		!trustedHeader.AppHash.Equal(l.ConflictingBlock.AppHash) ||
		!trustedHeader.LastResultsHash.Equal(l.ConflictingBlock.LastResultsHash)
}

// ValidateBasic performs basic validation.
func (l *LightClientAttackEvidence) ValidateBasic() error {
	if l.ConflictingBlock == nil {
		return errors.New("conflicting block is nil")
	}

	// this check needs to be done before we can run validate basic
	if l.ConflictingBlock.Header == nil {
		return errors.New("conflicting block missing header")
	}

	if l.CommonHeight <= 0 {
		return errors.New("negative or zero common height")
	}

	// check that common height isn't ahead of the height of the conflicting block. It
	// is possible that they are the same height if the light node witnesses either an
	// amnesia or a equivocation attack.
	if l.CommonHeight > l.ConflictingBlock.Height {
		return fmt.Errorf("common height is ahead of the conflicting block height (%d > %d)",
			l.CommonHeight, l.ConflictingBlock.Height)
	}

	if l.TotalVotingPower <= 0 {
		return errors.New("negative or zero total voting power")
	}

	if err := l.ConflictingBlock.ValidateBasic(l.ConflictingBlock.ChainID); err != nil {
		return fmt.Errorf("invalid conflicting light block: %w", err)
	}

	return nil
}

// String returns a string representation of LightClientAttackEvidence.
func (l *LightClientAttackEvidence) String() string {
	return fmt.Sprintf("LightClientAttackEvidence{ConflictingBlock: %v, CommonHeight: %d}",
		l.ConflictingBlock.String(), l.CommonHeight)
}
