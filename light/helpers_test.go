package light_test

import (
	"time"

	"github.com/tenderlight/tenderlight/crypto"
	"github.com/tenderlight/tenderlight/crypto/ed25519"
	"github.com/tenderlight/tenderlight/types"
)

// privKeys is a helper type for testing.
//
// It lets us simulate signing with many keys. The main use case is to create
// a set, and call genLightBlocksWithKeys to get properly signed header chains
// to test against.
type privKeys []crypto.PrivKey

// genPrivKeys produces an array of private keys to generate commits.
func genPrivKeys(n int) privKeys {
	res := make(privKeys, n)
	for i := range res {
		res[i] = ed25519.GenPrivKey()
	}
	return res
}

// ToValidators produces a valset from the set of keys.
// The first key has weight `init` and it increases by `inc` every step
// so we can have all the same weight, or a simple linear distribution
// (should be enough for testing).
func (pkz privKeys) ToValidators(init, inc int64) *types.ValidatorSet {
	res := make([]*types.Validator, len(pkz))
	for i, k := range pkz {
		res[i] = types.NewValidator(k.PubKey(), init+int64(i)*inc)
	}
	return types.NewValidatorSet(res)
}

// signHeader properly signs the header with all keys from first to last
// exclusive.
func (pkz privKeys) signHeader(header *types.Header, valSet *types.ValidatorSet, first, last int) *types.Commit {
	blockID := types.BlockID{
		Hash: header.Hash(),
		PartSetHeader: types.PartSetHeader{
			Total: 1,
			Hash:  crypto.Checksum(header.Hash()),
		},
	}

	// Absent by default, filled in below for the signing subset.
	sigs := make([]types.CommitSig, valSet.Size())
	for i := range sigs {
		sigs[i] = types.NewCommitSigAbsent()
	}
	commit := types.NewCommit(header.Height, 1, blockID, sigs)

	for i := first; i < last && i < len(pkz); i++ {
		addr := pkz[i].PubKey().Address()
		idx, val := valSet.GetByAddress(addr)
		if val == nil {
			continue
		}
		commit.Signatures[idx] = types.CommitSig{
			BlockIDFlag:      types.BlockIDFlagCommit,
			ValidatorAddress: addr,
			Timestamp:        header.Time,
		}
		sig, err := pkz[i].Sign(commit.VoteSignBytes(header.ChainID, idx))
		if err != nil {
			panic(err)
		}
		commit.Signatures[idx].Signature = sig
	}

	return commit
}

func genHeader(chainID string, height int64, bTime time.Time, lastBlockID types.BlockID,
	valset, nextValset *types.ValidatorSet, appHash []byte) *types.Header {
	return &types.Header{
		ChainID:            chainID,
		Height:             height,
		Time:               bTime,
		LastBlockID:        lastBlockID,
		ValidatorsHash:     valset.Hash(),
		NextValidatorsHash: nextValset.Hash(),
		DataHash:           crypto.Checksum([]byte("data")),
		ConsensusHash:      crypto.Checksum([]byte("consensus")),
		LastCommitHash:     crypto.Checksum([]byte("last-commit")),
		LastResultsHash:    crypto.Checksum([]byte("results")),
		AppHash:            appHash,
		ProposerAddress:    valset.Validators[0].Address,
	}
}

// genSignedHeader calls genHeader and signHeader and combines them into a
// SignedHeader.
func (pkz privKeys) genSignedHeader(chainID string, height int64, bTime time.Time, lastBlockID types.BlockID,
	valset, nextValset *types.ValidatorSet, appHash []byte, first, last int) *types.SignedHeader {
	header := genHeader(chainID, height, bTime, lastBlockID, valset, nextValset, appHash)
	return &types.SignedHeader{
		Header: header,
		Commit: pkz.signHeader(header, valset, first, last),
	}
}

// ChangeKeys returns a new privKeys with the first `delta` keys removed and
// `delta` new keys appended, simulating validator set churn.
func (pkz privKeys) ChangeKeys(delta int) privKeys {
	newKeys := pkz[delta:]
	return append(newKeys, genPrivKeys(delta)...)
}

// genLightBlocksWithKeys generates the header and validator set chain with
// validator variation at each height. blockTime is the interval between
// consecutive headers.
//
// The returned validator map also contains the set for numBlocks+1 so mock
// providers can serve next validators for the final block.
func genLightBlocksWithKeys(
	chainID string,
	numBlocks int64,
	valSize int,
	valVariation float32,
	bTime time.Time,
	blockTime time.Duration,
) (map[int64]*types.SignedHeader, map[int64]*types.ValidatorSet, map[int64]privKeys) {
	var (
		headerSet       = make(map[int64]*types.SignedHeader, numBlocks)
		valSet          = make(map[int64]*types.ValidatorSet, numBlocks+1)
		keySet          = make(map[int64]privKeys, numBlocks+1)
		valVariationInt = int(valVariation)
		totalVariation  = valVariation - float32(valVariationInt)
	)

	keys := genPrivKeys(valSize)
	newKeys := keys.ChangeKeys(valVariationInt)

	var lastBlockID types.BlockID
	for height := int64(1); height <= numBlocks; height++ {
		totalVariation += valVariation
		valVariationInt = int(totalVariation)
		totalVariation = -float32(valVariationInt)

		vals := keys.ToValidators(2, 0)
		nextVals := newKeys.ToValidators(2, 0)
		sh := keys.genSignedHeader(chainID, height, bTime.Add(time.Duration(height)*blockTime),
			lastBlockID, vals, nextVals, crypto.Checksum([]byte("app")), 0, len(keys))

		headerSet[height] = sh
		valSet[height] = vals
		keySet[height] = keys
		lastBlockID = types.BlockID{
			Hash: sh.Hash(),
			PartSetHeader: types.PartSetHeader{
				Total: 1,
				Hash:  crypto.Checksum(sh.Hash()),
			},
		}

		keys = newKeys
		newKeys = keys.ChangeKeys(valVariationInt)
	}
	valSet[numBlocks+1] = keys.ToValidators(2, 0)
	keySet[numBlocks+1] = keys

	return headerSet, valSet, keySet
}

// lightBlock bundles one generated height into a LightBlock attributed to the
// given peer.
func lightBlock(headers map[int64]*types.SignedHeader, vals map[int64]*types.ValidatorSet,
	height int64, peer types.PeerID) *types.LightBlock {
	return &types.LightBlock{
		SignedHeader:   headers[height],
		ValidatorSet:   vals[height],
		NextValidators: vals[height+1],
		Provider:       peer,
	}
}
