package types

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/tenderlight/tenderlight/crypto"
)

// Validator holds the voting power of a single member of a validator set.
type Validator struct {
	Address     crypto.Address `json:"address"`
	PubKey      crypto.PubKey  `json:"pub_key"`
	VotingPower int64          `json:"voting_power"`
}

// NewValidator returns a new validator with the given pubkey and voting power.
func NewValidator(pubKey crypto.PubKey, votingPower int64) *Validator {
	return &Validator{
		Address:     pubKey.Address(),
		PubKey:      pubKey,
		VotingPower: votingPower,
	}
}

// ValidateBasic performs basic validation.
func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.PubKey == nil {
		return errors.New("validator does not have a public key")
	}
	if v.VotingPower < 0 {
		return errors.New("validator has negative voting power")
	}
	if len(v.Address) != crypto.AddressSize {
		return fmt.Errorf("validator address is the wrong size: %v", v.Address)
	}
	if !bytes.Equal(v.PubKey.Address(), v.Address) {
		return errors.New("validator address does not match its public key")
	}

	return nil
}

// Copy creates a new copy of the validator so we can mutate voting power
// without affecting the original validator.
func (v *Validator) Copy() *Validator {
	vCopy := *v
	return &vCopy
}

// Bytes computes the unique encoding of a validator used as a leaf of the
// validator set Merkle tree. It contains the pubkey and voting power, the
// two pieces a light client needs to tally commits.
func (v *Validator) Bytes() []byte {
	return canonicalValidatorBytes(v.PubKey.Bytes(), v.VotingPower)
}

// String returns a string representation of String.
//
// 1. address
// 2. public key
// 3. voting power
func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%v %v VP:%v}",
		v.Address,
		v.PubKey,
		v.VotingPower)
}

// ValidatorListString returns a prettified validator list for logging purposes.
func ValidatorListString(vals []*Validator) string {
	chunks := make([]string, len(vals))
	for i, val := range vals {
		chunks[i] = fmt.Sprintf("%s:%d", val.Address, val.VotingPower)
	}

	return strings.Join(chunks, ",")
}
