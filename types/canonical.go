package types

import (
	"encoding/json"
	"fmt"
	"time"

	tmbytes "github.com/tenderlight/tenderlight/libs/bytes"
)

// Canonical sign bytes: deterministic JSON of the vote a validator signed,
// bound to a chain id so a signature can only ever be applied to one chain.
// Field order is fixed by the struct definitions (alphabetical), times are
// normalised to UTC.

// TimeFormat is used for generating the sigs
const TimeFormat = time.RFC3339Nano

type CanonicalJSONBlockID struct {
	Hash        tmbytes.HexBytes           `json:"hash,omitempty"`
	PartsHeader CanonicalJSONPartSetHeader `json:"parts,omitempty"`
}

type CanonicalJSONPartSetHeader struct {
	Hash  tmbytes.HexBytes `json:"hash,omitempty"`
	Total uint32           `json:"total,omitempty"`
}

type CanonicalJSONVote struct {
	BlockID   CanonicalJSONBlockID `json:"block_id"`
	Height    int64                `json:"height"`
	Round     int32                `json:"round"`
	Timestamp string               `json:"timestamp"`
	Type      byte                 `json:"type"`
}

// Messages including a "chain id" can only be applied to one chain, hence
// "Once".
type CanonicalJSONOnceVote struct {
	ChainID string            `json:"chain_id"`
	Vote    CanonicalJSONVote `json:"vote"`
}

// precommitType matches the vote type a commit is built from.
const precommitType = byte(2)

func CanonicalBlockID(blockID BlockID) CanonicalJSONBlockID {
	return CanonicalJSONBlockID{
		Hash:        blockID.Hash,
		PartsHeader: CanonicalPartSetHeader(blockID.PartSetHeader),
	}
}

func CanonicalPartSetHeader(psh PartSetHeader) CanonicalJSONPartSetHeader {
	return CanonicalJSONPartSetHeader{
		Hash:  psh.Hash,
		Total: psh.Total,
	}
}

// CanonicalizeVote builds the canonical form of the precommit the validator
// at valIdx contributed to the commit.
func CanonicalizeVote(commit *Commit, valIdx int32) CanonicalJSONVote {
	cs := commit.Signatures[valIdx]
	return CanonicalJSONVote{
		BlockID:   CanonicalBlockID(cs.BlockID(commit.BlockID)),
		Height:    commit.Height,
		Round:     commit.Round,
		Timestamp: CanonicalTime(cs.Timestamp),
		Type:      precommitType,
	}
}

// CanonicalTime returns UTC time formatted with TimeFormat.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// VoteSignBytes returns the deterministic sign bytes for the given canonical
// vote under chainID.
func VoteSignBytes(chainID string, vote CanonicalJSONVote) []byte {
	bz, err := json.Marshal(CanonicalJSONOnceVote{
		ChainID: chainID,
		Vote:    vote,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal canonical vote: %v", err))
	}
	return bz
}

// canonicalValidatorBytes is the leaf encoding of a validator in the
// validator set Merkle tree.
func canonicalValidatorBytes(pubKey []byte, votingPower int64) []byte {
	bz, err := json.Marshal(struct {
		PubKey      tmbytes.HexBytes `json:"pub_key"`
		VotingPower int64            `json:"voting_power"`
	}{pubKey, votingPower})
	if err != nil {
		panic(fmt.Sprintf("failed to marshal canonical validator: %v", err))
	}
	return bz
}

// headerFieldBytes deterministically encodes one header field for hashing.
func headerFieldBytes(field interface{}) []byte {
	bz, err := json.Marshal(field)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal header field: %v", err))
	}
	return bz
}
