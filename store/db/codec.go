package db

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tenderlight/tenderlight/crypto/ed25519"
	"github.com/tenderlight/tenderlight/types"
)

// The persisted layout is a canonical CBOR encoding of the light block,
// flattened so that public keys round-trip as raw bytes plus a key type.
// Any change here is a breaking change to existing stores.

var cborEnc cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	cborEnc, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}

type validatorRecord struct {
	KeyType     string `cbor:"1,keyasint"`
	PubKey      []byte `cbor:"2,keyasint"`
	VotingPower int64  `cbor:"3,keyasint"`
}

type commitSigRecord struct {
	BlockIDFlag      byte      `cbor:"1,keyasint"`
	ValidatorAddress []byte    `cbor:"2,keyasint"`
	Timestamp        time.Time `cbor:"3,keyasint"`
	Signature        []byte    `cbor:"4,keyasint"`
}

type blockIDRecord struct {
	Hash      []byte `cbor:"1,keyasint"`
	PartsHash []byte `cbor:"2,keyasint"`
	Total     uint32 `cbor:"3,keyasint"`
}

type headerRecord struct {
	ChainID            string        `cbor:"1,keyasint"`
	Height             int64         `cbor:"2,keyasint"`
	Time               time.Time     `cbor:"3,keyasint"`
	LastBlockID        blockIDRecord `cbor:"4,keyasint"`
	LastCommitHash     []byte        `cbor:"5,keyasint"`
	DataHash           []byte        `cbor:"6,keyasint"`
	ValidatorsHash     []byte        `cbor:"7,keyasint"`
	NextValidatorsHash []byte        `cbor:"8,keyasint"`
	ConsensusHash      []byte        `cbor:"9,keyasint"`
	AppHash            []byte        `cbor:"10,keyasint"`
	LastResultsHash    []byte        `cbor:"11,keyasint"`
	ProposerAddress    []byte        `cbor:"12,keyasint"`
}

type lightBlockRecord struct {
	Header         headerRecord      `cbor:"1,keyasint"`
	CommitRound    int32             `cbor:"2,keyasint"`
	CommitBlockID  blockIDRecord     `cbor:"3,keyasint"`
	Signatures     []commitSigRecord `cbor:"4,keyasint"`
	Validators     []validatorRecord `cbor:"5,keyasint"`
	NextValidators []validatorRecord `cbor:"6,keyasint"`
	Provider       string            `cbor:"7,keyasint"`
}

func encodeLightBlock(lb *types.LightBlock) ([]byte, error) {
	rec := lightBlockRecord{
		Header: headerRecord{
			ChainID:            lb.ChainID,
			Height:             lb.Height,
			Time:               lb.Time,
			LastBlockID:        encodeBlockID(lb.LastBlockID),
			LastCommitHash:     lb.LastCommitHash,
			DataHash:           lb.DataHash,
			ValidatorsHash:     lb.ValidatorsHash,
			NextValidatorsHash: lb.NextValidatorsHash,
			ConsensusHash:      lb.ConsensusHash,
			AppHash:            lb.AppHash,
			LastResultsHash:    lb.LastResultsHash,
			ProposerAddress:    lb.ProposerAddress,
		},
		CommitRound:    lb.Commit.Round,
		CommitBlockID:  encodeBlockID(lb.Commit.BlockID),
		Signatures:     encodeCommitSigs(lb.Commit.Signatures),
		Validators:     encodeValidators(lb.ValidatorSet),
		NextValidators: encodeValidators(lb.NextValidators),
		Provider:       string(lb.Provider),
	}

	bz, err := cborEnc.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode light block: %w", err)
	}
	return bz, nil
}

func decodeLightBlock(bz []byte) (*types.LightBlock, error) {
	var rec lightBlockRecord
	if err := cbor.Unmarshal(bz, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode light block: %w", err)
	}

	vals, err := decodeValidators(rec.Validators)
	if err != nil {
		return nil, err
	}
	nextVals, err := decodeValidators(rec.NextValidators)
	if err != nil {
		return nil, err
	}

	header := &types.Header{
		ChainID:            rec.Header.ChainID,
		Height:             rec.Header.Height,
		Time:               rec.Header.Time,
		LastBlockID:        decodeBlockID(rec.Header.LastBlockID),
		LastCommitHash:     rec.Header.LastCommitHash,
		DataHash:           rec.Header.DataHash,
		ValidatorsHash:     rec.Header.ValidatorsHash,
		NextValidatorsHash: rec.Header.NextValidatorsHash,
		ConsensusHash:      rec.Header.ConsensusHash,
		AppHash:            rec.Header.AppHash,
		LastResultsHash:    rec.Header.LastResultsHash,
		ProposerAddress:    rec.Header.ProposerAddress,
	}

	commit := &types.Commit{
		Height:     rec.Header.Height,
		Round:      rec.CommitRound,
		BlockID:    decodeBlockID(rec.CommitBlockID),
		Signatures: decodeCommitSigs(rec.Signatures),
	}

	return &types.LightBlock{
		SignedHeader:   &types.SignedHeader{Header: header, Commit: commit},
		ValidatorSet:   vals,
		NextValidators: nextVals,
		Provider:       types.PeerID(rec.Provider),
	}, nil
}

func encodeBlockID(blockID types.BlockID) blockIDRecord {
	return blockIDRecord{
		Hash:      blockID.Hash,
		PartsHash: blockID.PartSetHeader.Hash,
		Total:     blockID.PartSetHeader.Total,
	}
}

func decodeBlockID(rec blockIDRecord) types.BlockID {
	return types.BlockID{
		Hash: rec.Hash,
		PartSetHeader: types.PartSetHeader{
			Hash:  rec.PartsHash,
			Total: rec.Total,
		},
	}
}

func encodeCommitSigs(sigs []types.CommitSig) []commitSigRecord {
	recs := make([]commitSigRecord, len(sigs))
	for i, sig := range sigs {
		recs[i] = commitSigRecord{
			BlockIDFlag:      byte(sig.BlockIDFlag),
			ValidatorAddress: sig.ValidatorAddress,
			Timestamp:        sig.Timestamp,
			Signature:        sig.Signature,
		}
	}
	return recs
}

func decodeCommitSigs(recs []commitSigRecord) []types.CommitSig {
	sigs := make([]types.CommitSig, len(recs))
	for i, rec := range recs {
		sigs[i] = types.CommitSig{
			BlockIDFlag:      types.BlockIDFlag(rec.BlockIDFlag),
			ValidatorAddress: rec.ValidatorAddress,
			Timestamp:        rec.Timestamp,
			Signature:        rec.Signature,
		}
	}
	return sigs
}

func encodeValidators(vals *types.ValidatorSet) []validatorRecord {
	if vals == nil {
		return nil
	}
	recs := make([]validatorRecord, len(vals.Validators))
	for i, val := range vals.Validators {
		recs[i] = validatorRecord{
			KeyType:     val.PubKey.Type(),
			PubKey:      val.PubKey.Bytes(),
			VotingPower: val.VotingPower,
		}
	}
	return recs
}

func decodeValidators(recs []validatorRecord) (*types.ValidatorSet, error) {
	if recs == nil {
		return nil, nil
	}
	vals := make([]*types.Validator, len(recs))
	for i, rec := range recs {
		switch rec.KeyType {
		case ed25519.KeyType:
			vals[i] = types.NewValidator(ed25519.PubKey(rec.PubKey), rec.VotingPower)
		default:
			return nil, fmt.Errorf("unsupported key type %q in stored validator", rec.KeyType)
		}
	}
	return types.NewValidatorSet(vals), nil
}
