package light_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/tenderlight/tenderlight/crypto"
	"github.com/tenderlight/tenderlight/libs/log"
	"github.com/tenderlight/tenderlight/light"
	"github.com/tenderlight/tenderlight/provider"
	mockp "github.com/tenderlight/tenderlight/provider/mock"
	"github.com/tenderlight/tenderlight/store"
	dbs "github.com/tenderlight/tenderlight/store/db"
	"github.com/tenderlight/tenderlight/types"
)

// The witness serves an internally valid chain that diverges from the
// primary's at the target height: a real fork. The client must halt with
// ErrForkDetected and submit evidence in both directions.
func TestDetectorForkDetected(t *testing.T) {
	defer leaktest.Check(t)()

	var (
		ctx     = context.Background()
		bTime   = time.Now().Add(-time.Hour)
		keys    = genPrivKeys(4)
		vals    = keys.ToValidators(25, 0)
		appHash = crypto.Checksum([]byte("app"))
	)

	// Shared height 1.
	header1 := keys.genSignedHeader(testChainID, 1, bTime, types.BlockID{}, vals, vals, appHash, 0, len(keys))
	lastBlockID := types.BlockID{
		Hash:          header1.Hash(),
		PartSetHeader: types.PartSetHeader{Total: 1, Hash: crypto.Checksum(header1.Hash())},
	}

	// Same validators sign two different blocks at height 2.
	primaryHeader2 := keys.genSignedHeader(testChainID, 2, bTime.Add(time.Minute), lastBlockID,
		vals, vals, appHash, 0, len(keys))
	witnessHeader2 := keys.genSignedHeader(testChainID, 2, bTime.Add(time.Minute), lastBlockID,
		vals, vals, crypto.Checksum([]byte("conflicting-app")), 0, len(keys))
	require.NotEqual(t, primaryHeader2.Hash(), witnessHeader2.Hash())

	valSet := map[int64]*types.ValidatorSet{1: vals, 2: vals, 3: vals}
	primary := mockp.New("primary",
		map[int64]*types.SignedHeader{1: header1, 2: primaryHeader2}, valSet)
	witness := mockp.New("witness",
		map[int64]*types.SignedHeader{1: header1, 2: witnessHeader2}, valSet)

	mclock := clock.NewMock()
	mclock.Set(bTime.Add(10 * time.Minute))

	db := dbs.New(dbm.NewMemDB())
	c, err := light.NewClient(ctx, testChainID,
		light.TrustOptions{Period: 4 * time.Hour, Height: 1, Hash: header1.Hash()},
		primary, []provider.Provider{witness}, db,
		light.WithClock(mclock),
		light.WithLogger(log.TestingLogger()),
	)
	require.NoError(t, err)

	_, err = c.VerifyToHeight(ctx, 2)
	var forkErr light.ErrForkDetected
	require.ErrorAs(t, err, &forkErr)
	assert.Equal(t, []types.PeerID{"witness"}, forkErr.Peers)

	// Evidence went both ways: the witness's block to the primary's side and
	// the primary's block to the witness.
	assert.True(t, primary.HasEvidence(&types.LightClientAttackEvidence{
		ConflictingBlock: &types.LightBlock{
			SignedHeader:   witnessHeader2,
			ValidatorSet:   vals,
			NextValidators: vals,
			Provider:       "witness",
		},
		CommonHeight: 1,
	}), "primary should have received evidence of the witness's block")
	assert.True(t, witness.HasEvidence(&types.LightClientAttackEvidence{
		ConflictingBlock: &types.LightBlock{
			SignedHeader:   primaryHeader2,
			ValidatorSet:   vals,
			NextValidators: vals,
			Provider:       "primary",
		},
		CommonHeight: 1,
	}), "witness should have received evidence of the primary's block")

	// The diverged trace must not be committed.
	_, err = db.Get(2, store.StatusVerified)
	assert.ErrorIs(t, err, store.ErrLightBlockNotFound)
}

// The sole witness times out on every attempt: nothing is left to cross-check
// against, so the trace is not committed.
func TestDetectorWitnessTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	var (
		ctx   = context.Background()
		bTime = time.Now().Add(-time.Hour)
	)
	headers, vals, _ := genLightBlocksWithKeys(testChainID, 2, 4, 0, bTime, time.Minute)
	primary := mockp.New("primary", headers, vals)
	witness := primary.Copy("witness")

	// Real clock here: the witness fetch goes through the retry backoff.
	db := dbs.New(dbm.NewMemDB())
	c, err := light.NewClient(ctx, testChainID,
		light.TrustOptions{Period: 4 * time.Hour, Height: 1, Hash: headers[1].Hash()},
		primary, []provider.Provider{witness}, db,
		light.MaxRetryAttempts(1),
		light.WithLogger(log.TestingLogger()),
	)
	require.NoError(t, err)

	witness.SetReturnError(provider.ErrTimeout{Elapsed: time.Second})

	_, err = c.VerifyToHeight(ctx, 2)
	require.ErrorIs(t, err, light.ErrNoWitnessesLeft)

	_, err = db.Get(2, store.StatusVerified)
	assert.ErrorIs(t, err, store.ErrLightBlockNotFound, "primary trace must not be committed")
}

// A witness that serves an unverifiable conflicting chain is faulty, not a
// fork: it gets removed and the remaining witnesses decide the round.
func TestDetectorFaultyWitnessRemoved(t *testing.T) {
	defer leaktest.Check(t)()

	var (
		ctx     = context.Background()
		bTime   = time.Now().Add(-time.Hour)
		keys    = genPrivKeys(4)
		vals    = keys.ToValidators(25, 0)
		appHash = crypto.Checksum([]byte("app"))

		forgerKeys = genPrivKeys(4)
		forgerVals = forgerKeys.ToValidators(25, 0)
	)

	header1 := keys.genSignedHeader(testChainID, 1, bTime, types.BlockID{}, vals, vals, appHash, 0, len(keys))
	lastBlockID := types.BlockID{
		Hash:          header1.Hash(),
		PartSetHeader: types.PartSetHeader{Total: 1, Hash: crypto.Checksum(header1.Hash())},
	}
	header2 := keys.genSignedHeader(testChainID, 2, bTime.Add(time.Minute), lastBlockID,
		vals, vals, appHash, 0, len(keys))

	// The faulty witness's block at 2 is signed by nobody the trusted set
	// knows, so its chain can never verify.
	forgedHeader2 := forgerKeys.genSignedHeader(testChainID, 2, bTime.Add(time.Minute), lastBlockID,
		forgerVals, forgerVals, appHash, 0, len(forgerKeys))

	valSet := map[int64]*types.ValidatorSet{1: vals, 2: vals, 3: vals}
	primary := mockp.New("primary",
		map[int64]*types.SignedHeader{1: header1, 2: header2}, valSet)
	honestWitness := primary.Copy("honest")
	faultyWitness := mockp.New("faulty",
		map[int64]*types.SignedHeader{1: header1, 2: forgedHeader2},
		map[int64]*types.ValidatorSet{1: vals, 2: forgerVals, 3: forgerVals})

	mclock := clock.NewMock()
	mclock.Set(bTime.Add(10 * time.Minute))

	c, err := light.NewClient(ctx, testChainID,
		light.TrustOptions{Period: 4 * time.Hour, Height: 1, Hash: header1.Hash()},
		primary, []provider.Provider{honestWitness, faultyWitness}, dbs.New(dbm.NewMemDB()),
		light.WithClock(mclock),
		light.WithLogger(log.TestingLogger()),
	)
	require.NoError(t, err)

	lb, err := c.VerifyToHeight(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, lb.Height)

	require.Len(t, c.Witnesses(), 1)
	assert.EqualValues(t, "honest", c.Witnesses()[0].ID())
}
