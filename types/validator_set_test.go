package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderlight/tenderlight/crypto/ed25519"
)

func randValidators(n int, power int64) []*Validator {
	valz := make([]*Validator, n)
	for i := range valz {
		valz[i] = NewValidator(ed25519.GenPrivKey().PubKey(), power)
	}
	return valz
}

func TestNewValidatorSetSortsByAddress(t *testing.T) {
	vals := NewValidatorSet(randValidators(10, 5))

	for i := 1; i < vals.Size(); i++ {
		prev, cur := vals.Validators[i-1], vals.Validators[i]
		require.True(t, bytes.Compare(prev.Address, cur.Address) < 0,
			"validators out of order: %v before %v", prev.Address, cur.Address)
	}
}

func TestValidatorSetHashIgnoresInputOrder(t *testing.T) {
	valz := randValidators(5, 10)
	reversed := make([]*Validator, len(valz))
	for i, val := range valz {
		reversed[len(valz)-1-i] = val
	}

	assert.Equal(t, NewValidatorSet(valz).Hash(), NewValidatorSet(reversed).Hash())
}

func TestValidatorSetHashChangesWithPower(t *testing.T) {
	valz := randValidators(3, 10)
	a := NewValidatorSet(valz)

	valz[0].VotingPower = 11
	b := NewValidatorSet(valz)

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestValidatorSetTotalVotingPower(t *testing.T) {
	vals := NewValidatorSet([]*Validator{
		NewValidator(ed25519.GenPrivKey().PubKey(), 10),
		NewValidator(ed25519.GenPrivKey().PubKey(), 20),
		NewValidator(ed25519.GenPrivKey().PubKey(), 30),
	})
	assert.EqualValues(t, 60, vals.TotalVotingPower())
}

func TestValidatorSetGetByAddress(t *testing.T) {
	vals := NewValidatorSet(randValidators(5, 10))

	for i, val := range vals.Validators {
		idx, got := vals.GetByAddress(val.Address)
		require.EqualValues(t, i, idx)
		require.NotNil(t, got)

		// the returned validator is a copy
		got.VotingPower = 999
		assert.EqualValues(t, 10, vals.Validators[i].VotingPower)
	}

	idx, got := vals.GetByAddress(ed25519.GenPrivKey().PubKey().Address())
	assert.EqualValues(t, -1, idx)
	assert.Nil(t, got)
}

func TestValidatorSetGetByIndex(t *testing.T) {
	vals := NewValidatorSet(randValidators(3, 10))

	addr, val := vals.GetByIndex(1)
	require.NotNil(t, val)
	assert.Equal(t, vals.Validators[1].Address, addr)

	for _, idx := range []int32{-1, 3} {
		addr, val := vals.GetByIndex(idx)
		assert.Nil(t, addr)
		assert.Nil(t, val)
	}
}

func TestValidatorSetValidateBasic(t *testing.T) {
	goodVal := NewValidator(ed25519.GenPrivKey().PubKey(), 10)

	testCases := []struct {
		name string
		vals *ValidatorSet
	}{
		{"nil set", nil},
		{"empty set", NewValidatorSet(nil)},
		{"duplicate address", NewValidatorSet([]*Validator{goodVal, goodVal.Copy()})},
		{"negative power", NewValidatorSet([]*Validator{
			NewValidator(ed25519.GenPrivKey().PubKey(), -1),
		})},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.vals.ValidateBasic())
		})
	}

	assert.NoError(t, NewValidatorSet([]*Validator{goodVal}).ValidateBasic())
}
