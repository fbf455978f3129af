package types

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/tenderlight/tenderlight/crypto"
	"github.com/tenderlight/tenderlight/crypto/merkle"
	tmbytes "github.com/tenderlight/tenderlight/libs/bytes"
	tmmath "github.com/tenderlight/tenderlight/libs/math"
)

// MaxTotalVotingPower - the maximum allowed total voting power. It keeps
// enough headroom for the widened tally arithmetic in commit verification.
const MaxTotalVotingPower = int64(math.MaxInt64) / 8

// ValidatorSet represents a set of validators, ordered by address.
//
// The Hash is computed once at construction and cached. The set is
// read-only afterwards; callers must not mutate the validators.
type ValidatorSet struct {
	Validators []*Validator `json:"validators"`

	// cached (not deterministic inputs)
	totalVotingPower int64
	hash             tmbytes.HexBytes
}

// NewValidatorSet initializes a ValidatorSet by copying and sorting the given
// validators by address. The set's total voting power is computed eagerly and
// panics on 64-bit overflow, which indicates corrupt input.
func NewValidatorSet(valz []*Validator) *ValidatorSet {
	vals := &ValidatorSet{
		Validators: validatorListCopy(valz),
	}
	sort.Sort(validatorsByAddress(vals.Validators))
	vals.totalVotingPower = vals.computeTotalVotingPower()
	return vals
}

// ValidateBasic performs basic validation: no empty set, valid members, no
// duplicate addresses, and a total voting power that fits an int64.
func (vals *ValidatorSet) ValidateBasic() error {
	if vals.IsNilOrEmpty() {
		return errors.New("validator set is nil or empty")
	}

	seen := make(map[string]struct{}, len(vals.Validators))
	for idx, val := range vals.Validators {
		if err := val.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid validator #%d: %w", idx, err)
		}
		if _, ok := seen[string(val.Address)]; ok {
			return fmt.Errorf("duplicate validator address %v", val.Address)
		}
		seen[string(val.Address)] = struct{}{}
	}

	total := int64(0)
	for _, val := range vals.Validators {
		var overflow bool
		total, overflow = tmmath.SafeAddInt64(total, val.VotingPower)
		if overflow || total > MaxTotalVotingPower {
			return fmt.Errorf("total voting power exceeds %d", MaxTotalVotingPower)
		}
	}

	return nil
}

// IsNilOrEmpty returns true if validator set is nil or empty.
func (vals *ValidatorSet) IsNilOrEmpty() bool {
	return vals == nil || len(vals.Validators) == 0
}

func (vals *ValidatorSet) computeTotalVotingPower() int64 {
	sum := int64(0)
	for _, val := range vals.Validators {
		// mind the overflow from int64
		var overflow bool
		sum, overflow = tmmath.SafeAddInt64(sum, val.VotingPower)
		if overflow {
			panic(fmt.Sprintf("total voting power overflowed int64: %v", vals.Validators))
		}
	}
	return sum
}

// TotalVotingPower returns the sum of the voting powers of all validators.
func (vals *ValidatorSet) TotalVotingPower() int64 {
	return vals.totalVotingPower
}

// Size returns the length of the validator set.
func (vals *ValidatorSet) Size() int {
	return len(vals.Validators)
}

// GetByAddress returns an index of the validator with address and validator
// itself (copy) if found. Otherwise, -1 and nil are returned.
func (vals *ValidatorSet) GetByAddress(address crypto.Address) (index int32, val *Validator) {
	i := sort.Search(len(vals.Validators), func(i int) bool {
		return bytes.Compare(address, vals.Validators[i].Address) <= 0
	})
	if i < len(vals.Validators) && bytes.Equal(vals.Validators[i].Address, address) {
		return int32(i), vals.Validators[i].Copy()
	}
	return -1, nil
}

// GetByIndex returns the validator's address and validator itself (copy) by
// index. It returns nil values if index is less than 0 or greater or equal
// to len(ValidatorSet.Validators).
func (vals *ValidatorSet) GetByIndex(index int32) (address crypto.Address, val *Validator) {
	if index < 0 || int(index) >= len(vals.Validators) {
		return nil, nil
	}
	val = vals.Validators[index]
	return val.Address, val.Copy()
}

// Hash returns the Merkle root hash built using validators (as leaves) in the
// set.
func (vals *ValidatorSet) Hash() tmbytes.HexBytes {
	if vals == nil {
		return nil
	}
	if vals.hash != nil {
		return vals.hash
	}
	bzs := make([][]byte, len(vals.Validators))
	for i, val := range vals.Validators {
		bzs[i] = val.Bytes()
	}
	vals.hash = merkle.HashFromByteSlices(bzs)
	return vals.hash
}

// String returns a human readable representation of the validator set.
func (vals *ValidatorSet) String() string {
	if vals == nil {
		return "nil-ValidatorSet"
	}
	return fmt.Sprintf("ValidatorSet{Hash:%v Validators:%v}",
		vals.Hash(), ValidatorListString(vals.Validators))
}

func validatorListCopy(valsList []*Validator) []*Validator {
	if valsList == nil {
		return nil
	}
	valsCopy := make([]*Validator, len(valsList))
	for i, val := range valsList {
		valsCopy[i] = val.Copy()
	}
	return valsCopy
}

// validatorsByAddress implements sort.Interface for []*Validator based on
// the Address field.
type validatorsByAddress []*Validator

func (valz validatorsByAddress) Len() int { return len(valz) }

func (valz validatorsByAddress) Less(i, j int) bool {
	return bytes.Compare(valz[i].Address, valz[j].Address) == -1
}

func (valz validatorsByAddress) Swap(i, j int) {
	valz[i], valz[j] = valz[j], valz[i]
}
