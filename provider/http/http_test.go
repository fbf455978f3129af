package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenderlight/tenderlight/crypto/ed25519"
	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/types"
)

const testChainID = "test-chain"

// rpcNode serves the subset of the Tendermint RPC the provider speaks:
// /commit, /validators (paginated) and /broadcast_evidence, for a single
// block.
type rpcNode struct {
	t      *testing.T
	sh     *types.SignedHeader
	vals   *types.ValidatorSet
	errMsg string // when set, every call returns this RPC error

	mtx             sync.Mutex
	validatorCalls  []int64
	evidenceReports int
}

func newRPCNode(t *testing.T, numVals int) *rpcNode {
	valz := make([]*types.Validator, numVals)
	for i := range valz {
		valz[i] = types.NewValidator(ed25519.GenPrivKey().PubKey(), 10)
	}
	vals := types.NewValidatorSet(valz)

	header := &types.Header{
		ChainID:            testChainID,
		Height:             3,
		Time:               time.Date(2022, 5, 1, 10, 0, 0, 0, time.UTC),
		ValidatorsHash:     vals.Hash(),
		NextValidatorsHash: vals.Hash(),
		ProposerAddress:    vals.Validators[0].Address,
	}

	sigs := make([]types.CommitSig, vals.Size())
	for i, val := range vals.Validators {
		sigs[i] = types.NewCommitSigForBlock(make([]byte, ed25519.SignatureSize), val.Address, header.Time)
	}

	return &rpcNode{
		t:    t,
		sh:   &types.SignedHeader{Header: header, Commit: types.NewCommit(3, 0, types.BlockID{Hash: header.Hash()}, sigs)},
		vals: vals,
	}
}

func (n *rpcNode) requestedValidatorHeights() []int64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return append([]int64(nil), n.validatorCalls...)
}

func (n *rpcNode) evidenceCount() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.evidenceReports
}

func (n *rpcNode) ServeHTTP(w nethttp.ResponseWriter, r *nethttp.Request) {
	if n.errMsg != "" {
		n.writeError(w, n.errMsg)
		return
	}

	switch r.URL.Path {
	case "/commit":
		n.writeResult(w, map[string]interface{}{"signed_header": wireSignedHeader(n.sh)})
	case "/validators":
		n.serveValidators(w, r)
	case "/broadcast_evidence":
		require.NotEmpty(n.t, r.URL.Query().Get("evidence"))
		n.mtx.Lock()
		n.evidenceReports++
		n.mtx.Unlock()
		n.writeResult(w, map[string]interface{}{})
	default:
		n.t.Errorf("unexpected RPC path %q", r.URL.Path)
		w.WriteHeader(nethttp.StatusNotFound)
	}
}

func (n *rpcNode) serveValidators(w nethttp.ResponseWriter, r *nethttp.Request) {
	height, err := strconv.ParseInt(r.URL.Query().Get("height"), 10, 64)
	require.NoError(n.t, err)
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	require.NoError(n.t, err)
	perPage, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	require.NoError(n.t, err)

	n.mtx.Lock()
	n.validatorCalls = append(n.validatorCalls, height)
	n.mtx.Unlock()

	// Both the signing set and the announced next set are the fixture set.
	require.Contains(n.t, []int64{n.sh.Height, n.sh.Height + 1}, height)

	lo := (page - 1) * perPage
	hi := lo + perPage
	if hi > n.vals.Size() {
		hi = n.vals.Size()
	}
	jvals := make([]jsonValidator, 0, hi-lo)
	for _, val := range n.vals.Validators[lo:hi] {
		var jv jsonValidator
		jv.Address = val.Address.String()
		jv.PubKey.Type = ed25519.PubKeyName
		jv.PubKey.Value = base64.StdEncoding.EncodeToString(val.PubKey.Bytes())
		jv.VotingPower = strconv.FormatInt(val.VotingPower, 10)
		jvals = append(jvals, jv)
	}

	n.writeResult(w, map[string]interface{}{
		"validators": jvals,
		"total":      strconv.Itoa(n.vals.Size()),
	})
}

func (n *rpcNode) writeResult(w nethttp.ResponseWriter, result interface{}) {
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      -1,
		"result":  result,
	})
	require.NoError(n.t, err)
}

func (n *rpcNode) writeError(w nethttp.ResponseWriter, msg string) {
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      -1,
		"error": map[string]interface{}{
			"code":    -32603,
			"message": "Internal error",
			"data":    msg,
		},
	})
	require.NoError(n.t, err)
}

// wireSignedHeader renders a signed header the way the RPC encodes it, with
// string heights and base64 signatures.
func wireSignedHeader(sh *types.SignedHeader) jsonSignedHeader {
	sigs := make([]jsonCommitSig, len(sh.Commit.Signatures))
	for i, cs := range sh.Commit.Signatures {
		sigs[i] = jsonCommitSig{
			BlockIDFlag:      cs.BlockIDFlag,
			ValidatorAddress: []byte(cs.ValidatorAddress),
			Timestamp:        cs.Timestamp,
			Signature:        cs.Signature,
		}
	}

	jsh := jsonSignedHeader{
		Header: &jsonHeader{
			ChainID:            sh.ChainID,
			Height:             strconv.FormatInt(sh.Height, 10),
			Time:               sh.Time,
			LastCommitHash:     sh.LastCommitHash,
			DataHash:           sh.DataHash,
			ValidatorsHash:     sh.ValidatorsHash,
			NextValidatorsHash: sh.NextValidatorsHash,
			ConsensusHash:      sh.ConsensusHash,
			AppHash:            sh.AppHash,
			LastResultsHash:    sh.LastResultsHash,
			ProposerAddress:    []byte(sh.ProposerAddress),
		},
		Commit: &jsonCommit{
			Height:     strconv.FormatInt(sh.Commit.Height, 10),
			Round:      sh.Commit.Round,
			Signatures: sigs,
		},
	}
	jsh.Header.LastBlockID.Hash = sh.LastBlockID.Hash
	jsh.Header.LastBlockID.Parts.Total = sh.LastBlockID.PartSetHeader.Total
	jsh.Header.LastBlockID.Parts.Hash = sh.LastBlockID.PartSetHeader.Hash
	jsh.Commit.BlockID.Hash = sh.Commit.BlockID.Hash
	jsh.Commit.BlockID.Parts.Total = sh.Commit.BlockID.PartSetHeader.Total
	jsh.Commit.BlockID.Parts.Hash = sh.Commit.BlockID.PartSetHeader.Hash
	return jsh
}

func TestProviderLightBlock(t *testing.T) {
	// 150 validators force a second /validators page.
	node := newRPCNode(t, 150)
	srv := httptest.NewServer(node)
	defer srv.Close()

	p, err := New(testChainID, srv.URL, 0)
	require.NoError(t, err)

	lb, err := p.LightBlock(context.Background(), 3)
	require.NoError(t, err)

	assert.EqualValues(t, 3, lb.Height)
	assert.Equal(t, 150, lb.ValidatorSet.Size())
	assert.Equal(t, node.sh.Hash().Bytes(), lb.Hash().Bytes())
	assert.Equal(t, node.vals.Hash().Bytes(), lb.ValidatorSet.Hash().Bytes())
	assert.Equal(t, p.ID(), lb.Provider)

	// two pages each for the signing set and the next set
	assert.Equal(t, []int64{3, 3, 4, 4}, node.requestedValidatorHeights())
}

func TestProviderLatestPinsValidatorHeights(t *testing.T) {
	node := newRPCNode(t, 4)
	srv := httptest.NewServer(node)
	defer srv.Close()

	p, err := New(testChainID, srv.URL, 0)
	require.NoError(t, err)

	// Asking for the latest block must pin the validator requests to the
	// height the node answered with, not 0.
	lb, err := p.LightBlock(context.Background(), 0)
	require.NoError(t, err)

	assert.EqualValues(t, 3, lb.Height)
	assert.Equal(t, []int64{3, 4}, node.requestedValidatorHeights())
}

func TestProviderChainIDMismatch(t *testing.T) {
	node := newRPCNode(t, 4)
	srv := httptest.NewServer(node)
	defer srv.Close()

	p, err := New("another-chain", srv.URL, 0)
	require.NoError(t, err)

	_, err = p.LightBlock(context.Background(), 3)
	var invalidErr provider.ErrInvalidResponse
	require.ErrorAs(t, err, &invalidErr)
}

func TestProviderNegativeHeight(t *testing.T) {
	p, err := New(testChainID, "127.0.0.1:1", 0)
	require.NoError(t, err)

	_, err = p.LightBlock(context.Background(), -1)
	var invalidErr provider.ErrInvalidResponse
	require.ErrorAs(t, err, &invalidErr)
}

func TestProviderErrorMapping(t *testing.T) {
	testCases := []struct {
		data     string
		expected error
	}{
		{"height 11 must be less than or equal to the current blockchain height 10", provider.ErrHeightTooHigh},
		{"height 21 is greater than the current height 10", provider.ErrHeightTooHigh},
		{"height 5 is not available, lowest height is 8", provider.ErrLightBlockNotFound},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.data, func(t *testing.T) {
			node := newRPCNode(t, 4)
			node.errMsg = tc.data
			srv := httptest.NewServer(node)
			defer srv.Close()

			p, err := New(testChainID, srv.URL, 0)
			require.NoError(t, err)

			_, err = p.LightBlock(context.Background(), 11)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}

func TestProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p, err := New(testChainID, srv.URL, 20*time.Millisecond)
	require.NoError(t, err)

	_, err = p.LightBlock(context.Background(), 3)
	var timeoutErr provider.ErrTimeout
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, provider.IsRetryable(err))
}

func TestProviderTransportFailure(t *testing.T) {
	// nothing listens here
	p, err := New(testChainID, "127.0.0.1:1", 0)
	require.NoError(t, err)

	_, err = p.LightBlock(context.Background(), 3)
	var transportErr provider.ErrTransport
	require.ErrorAs(t, err, &transportErr)
	assert.True(t, provider.IsRetryable(err))
}

func TestProviderReportEvidence(t *testing.T) {
	node := newRPCNode(t, 4)
	srv := httptest.NewServer(node)
	defer srv.Close()

	p, err := New(testChainID, srv.URL, 0)
	require.NoError(t, err)

	lb, err := p.LightBlock(context.Background(), 3)
	require.NoError(t, err)

	ev := &types.LightClientAttackEvidence{
		ConflictingBlock: lb,
		CommonHeight:     1,
		Timestamp:        lb.Time,
		TotalVotingPower: lb.ValidatorSet.TotalVotingPower(),
	}
	require.NoError(t, p.ReportEvidence(context.Background(), ev))
	assert.Equal(t, 1, node.evidenceCount())
}

func TestProviderRemoteDefaults(t *testing.T) {
	testCases := []struct {
		remote   string
		expected string
	}{
		{"127.0.0.1:26657", "http://127.0.0.1:26657"},
		{"http://127.0.0.1:26657/", "http://127.0.0.1:26657"},
		{"https://example.com:443", "https://example.com:443"},
	}

	for _, tc := range testCases {
		p, err := New(testChainID, tc.remote, 0)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, p.(*http).remote, tc.remote)
	}
}
