package types

import (
	"errors"
	"fmt"

	tmbytes "github.com/tenderlight/tenderlight/libs/bytes"
)

// PeerID is an opaque identifier of the full node a light block was obtained
// from (for an RPC provider, its address).
type PeerID string

// LightBlock is a SignedHeader and the validator sets needed to verify it:
// the set that signed it and the set announced for the next height.
type LightBlock struct {
	*SignedHeader  `json:"signed_header"`
	ValidatorSet   *ValidatorSet `json:"validator_set"`
	NextValidators *ValidatorSet `json:"next_validator_set"`

	Provider PeerID `json:"provider"`
}

// ValidateBasic checks that the data is correct and consistent
//
// This does no verification of the signatures
func (lb LightBlock) ValidateBasic(chainID string) error {
	if lb.SignedHeader == nil {
		return errors.New("missing signed header")
	}
	if lb.ValidatorSet == nil {
		return errors.New("missing validator set")
	}
	if lb.NextValidators == nil {
		return errors.New("missing next validator set")
	}

	if err := lb.SignedHeader.ValidateBasic(chainID); err != nil {
		return fmt.Errorf("invalid signed header: %w", err)
	}
	if err := lb.ValidatorSet.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid validator set: %w", err)
	}
	if err := lb.NextValidators.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid next validator set: %w", err)
	}

	// make sure the validator sets are consistent with the header
	if valSetHash := lb.ValidatorSet.Hash(); !lb.SignedHeader.ValidatorsHash.Equal(valSetHash) {
		return fmt.Errorf("expected validator hash of header to match validator set hash (%X != %X)",
			lb.SignedHeader.ValidatorsHash, valSetHash,
		)
	}
	if nextHash := lb.NextValidators.Hash(); !lb.SignedHeader.NextValidatorsHash.Equal(nextHash) {
		return fmt.Errorf("expected next validator hash of header to match next validator set hash (%X != %X)",
			lb.SignedHeader.NextValidatorsHash, nextHash,
		)
	}

	return nil
}

// Hash returns the hash of the light block's header, which identifies it.
func (lb LightBlock) Hash() tmbytes.HexBytes {
	if lb.SignedHeader == nil {
		return nil
	}
	return lb.SignedHeader.Hash()
}

// String returns a string representation of the LightBlock
func (lb LightBlock) String() string {
	if lb.SignedHeader == nil {
		return "LightBlock{nil}"
	}
	return fmt.Sprintf("LightBlock{%d %X from %s}", lb.Height, lb.Hash(), lb.Provider)
}
