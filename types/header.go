package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/tenderlight/tenderlight/crypto"
	"github.com/tenderlight/tenderlight/crypto/merkle"
	tmbytes "github.com/tenderlight/tenderlight/libs/bytes"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50
)

// Header defines the structure of a block header.
//
// NOTE: changes to the Header should be duplicated in the light client's
// persisted encoding version (store/db).
type Header struct {
	// basic block info
	ChainID string    `json:"chain_id"`
	Height  int64     `json:"height"`
	Time    time.Time `json:"time"`

	// prev block info
	LastBlockID BlockID `json:"last_block_id"`

	// hashes of block data
	LastCommitHash tmbytes.HexBytes `json:"last_commit_hash"` // commit from validators from the last block
	DataHash       tmbytes.HexBytes `json:"data_hash"`        // transactions

	// hashes from the app output from the prev block
	ValidatorsHash     tmbytes.HexBytes `json:"validators_hash"`      // validators for the current block
	NextValidatorsHash tmbytes.HexBytes `json:"next_validators_hash"` // validators for the next block
	ConsensusHash      tmbytes.HexBytes `json:"consensus_hash"`       // consensus params for current block
	AppHash            tmbytes.HexBytes `json:"app_hash"`             // state after txs from the previous block
	// root hash of all results from the txs from the previous block
	LastResultsHash tmbytes.HexBytes `json:"last_results_hash"`

	// consensus info
	ProposerAddress crypto.Address `json:"proposer_address"` // original proposer of the block
}

// Hash returns the hash of the header. It computes a Merkle root from the
// deterministic encodings of the fields, in declared order.
//
// Returns nil if ValidatorHash is missing, since a Header is not valid
// unless there is a ValidatorsHash (corresponding to the validator set).
func (h *Header) Hash() tmbytes.HexBytes {
	if h == nil || len(h.ValidatorsHash) == 0 {
		return nil
	}

	return merkle.HashFromByteSlices([][]byte{
		headerFieldBytes(h.ChainID),
		headerFieldBytes(h.Height),
		headerFieldBytes(CanonicalTime(h.Time)),
		headerFieldBytes(CanonicalBlockID(h.LastBlockID)),
		headerFieldBytes(h.LastCommitHash),
		headerFieldBytes(h.DataHash),
		headerFieldBytes(h.ValidatorsHash),
		headerFieldBytes(h.NextValidatorsHash),
		headerFieldBytes(h.ConsensusHash),
		headerFieldBytes(h.AppHash),
		headerFieldBytes(h.LastResultsHash),
		headerFieldBytes(h.ProposerAddress),
	})
}

// ValidateBasic performs stateless validation on a Header returning an error
// if any validation fails.
//
// NOTE: Timestamp validation is subtle and handled elsewhere.
func (h *Header) ValidateBasic() error {
	if h == nil {
		return errors.New("nil header")
	}

	if len(h.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chainID is too long; got: %d, max: %d", len(h.ChainID), MaxChainIDLen)
	}

	if h.Height < 0 {
		return errors.New("negative Height")
	} else if h.Height == 0 {
		return errors.New("zero Height")
	}

	if err := h.LastBlockID.ValidateBasic(); err != nil {
		return fmt.Errorf("wrong LastBlockID: %w", err)
	}

	if err := validateHash(h.LastCommitHash); err != nil {
		return fmt.Errorf("wrong LastCommitHash: %w", err)
	}

	if err := validateHash(h.DataHash); err != nil {
		return fmt.Errorf("wrong DataHash: %w", err)
	}

	if err := validateHash(h.ValidatorsHash); err != nil {
		return fmt.Errorf("wrong ValidatorsHash: %w", err)
	}
	if err := validateHash(h.NextValidatorsHash); err != nil {
		return fmt.Errorf("wrong NextValidatorsHash: %w", err)
	}
	if err := validateHash(h.ConsensusHash); err != nil {
		return fmt.Errorf("wrong ConsensusHash: %w", err)
	}
	// NOTE: AppHash is arbitrary length
	if err := validateHash(h.LastResultsHash); err != nil {
		return fmt.Errorf("wrong LastResultsHash: %w", err)
	}

	if len(h.ProposerAddress) != crypto.AddressSize {
		return fmt.Errorf(
			"invalid ProposerAddress length; got: %d, expected: %d",
			len(h.ProposerAddress), crypto.AddressSize,
		)
	}

	return nil
}

// String returns a string representation of the header.
func (h *Header) String() string {
	if h == nil {
		return "nil-Header"
	}
	return fmt.Sprintf("Header{%v/%d T:%v VH:%v NVH:%v}",
		h.ChainID, h.Height, h.Time, h.ValidatorsHash, h.NextValidatorsHash)
}
