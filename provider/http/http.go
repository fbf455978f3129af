// Package http implements a provider on top of the Tendermint RPC of a full
// node, collapsing the /commit and /validators (paginated) endpoints into a
// single light block per fetch.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	nethttp "net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tenderlight/tenderlight/crypto/ed25519"
	"github.com/tenderlight/tenderlight/libs/bytes"
	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/types"
)

// This is very brittle, see: https://github.com/tendermint/tendermint/issues/4740
var (
	regexpTooHigh  = regexp.MustCompile(`height \d+ (must be less than or equal to|is greater than)`)
	regexpMissing  = regexp.MustCompile(`height \d+ is not available`)
	maxValsPerPage = 100
)

const defaultRequestTimeout = 5 * time.Second

type http struct {
	chainID string
	remote  string
	client  *nethttp.Client
	timeout time.Duration
}

var _ provider.Provider = (*http)(nil)

// New creates an HTTP provider. If no scheme is provided in the remote URL,
// http will be used by default. Every request carries a deadline of timeout
// (defaultRequestTimeout when zero).
func New(chainID, remote string, timeout time.Duration) (provider.Provider, error) {
	// Ensure URL scheme is set (default HTTP) when not provided.
	if !strings.Contains(remote, "://") {
		remote = "http://" + remote
	}
	if _, err := url.Parse(remote); err != nil {
		return nil, fmt.Errorf("invalid remote %q: %w", remote, err)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &http{
		chainID: chainID,
		remote:  strings.TrimSuffix(remote, "/"),
		client:  &nethttp.Client{},
		timeout: timeout,
	}, nil
}

// ID returns the remote address this provider was configured with.
func (p *http) ID() types.PeerID {
	return types.PeerID(p.remote)
}

func (p *http) String() string {
	return fmt.Sprintf("http{%s}", p.remote)
}

// LightBlock fetches a LightBlock at the given height and checks the chainID
// matches. The /validators pages for the height and the next height are
// collapsed into the block's two validator sets.
func (p *http) LightBlock(ctx context.Context, height int64) (*types.LightBlock, error) {
	if height < 0 {
		return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("expected height >= 0, got height %d", height)}
	}

	sh, err := p.signedHeader(ctx, height)
	if err != nil {
		return nil, err
	}
	// when asked for the latest block, pin the validator requests to the
	// height the peer actually answered with
	height = sh.Height

	vals, err := p.validatorSet(ctx, height)
	if err != nil {
		return nil, err
	}
	nextVals, err := p.validatorSet(ctx, height+1)
	if err != nil {
		return nil, err
	}

	lb := &types.LightBlock{
		SignedHeader:   sh,
		ValidatorSet:   vals,
		NextValidators: nextVals,
		Provider:       p.ID(),
	}

	if err := lb.ValidateBasic(p.chainID); err != nil {
		return nil, provider.ErrInvalidResponse{Reason: err}
	}

	return lb, nil
}

// ReportEvidence calls the /broadcast_evidence endpoint.
func (p *http) ReportEvidence(ctx context.Context, ev types.Evidence) error {
	bz, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}
	_, err = p.call(ctx, "/broadcast_evidence", map[string]string{
		"evidence": string(bz),
	})
	return err
}

func (p *http) signedHeader(ctx context.Context, height int64) (*types.SignedHeader, error) {
	params := map[string]string{}
	if height > 0 {
		params["height"] = strconv.FormatInt(height, 10)
	}

	result, err := p.call(ctx, "/commit", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		SignedHeader jsonSignedHeader `json:"signed_header"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("malformed /commit response: %w", err)}
	}

	sh, err := res.SignedHeader.toSignedHeader()
	if err != nil {
		return nil, provider.ErrInvalidResponse{Reason: err}
	}
	return sh, nil
}

// The RPC wire format encodes 64-bit integers as strings and byte fields as
// either hex (hashes, addresses) or base64 (signatures), so responses are
// decoded into intermediate records first.

type jsonSignedHeader struct {
	Header *jsonHeader `json:"header"`
	Commit *jsonCommit `json:"commit"`
}

type jsonHeader struct {
	ChainID            string         `json:"chain_id"`
	Height             string         `json:"height"`
	Time               time.Time      `json:"time"`
	LastBlockID        jsonBlockID    `json:"last_block_id"`
	LastCommitHash     bytes.HexBytes `json:"last_commit_hash"`
	DataHash           bytes.HexBytes `json:"data_hash"`
	ValidatorsHash     bytes.HexBytes `json:"validators_hash"`
	NextValidatorsHash bytes.HexBytes `json:"next_validators_hash"`
	ConsensusHash      bytes.HexBytes `json:"consensus_hash"`
	AppHash            bytes.HexBytes `json:"app_hash"`
	LastResultsHash    bytes.HexBytes `json:"last_results_hash"`
	ProposerAddress    bytes.HexBytes `json:"proposer_address"`
}

type jsonBlockID struct {
	Hash  bytes.HexBytes `json:"hash"`
	Parts struct {
		Total uint32         `json:"total"`
		Hash  bytes.HexBytes `json:"hash"`
	} `json:"parts"`
}

type jsonCommit struct {
	Height     string          `json:"height"`
	Round      int32           `json:"round"`
	BlockID    jsonBlockID     `json:"block_id"`
	Signatures []jsonCommitSig `json:"signatures"`
}

type jsonCommitSig struct {
	BlockIDFlag      types.BlockIDFlag `json:"block_id_flag"`
	ValidatorAddress bytes.HexBytes    `json:"validator_address"`
	Timestamp        time.Time         `json:"timestamp"`
	Signature        []byte            `json:"signature"`
}

func (jb jsonBlockID) toBlockID() types.BlockID {
	return types.BlockID{
		Hash: jb.Hash,
		PartSetHeader: types.PartSetHeader{
			Total: jb.Parts.Total,
			Hash:  jb.Parts.Hash,
		},
	}
}

func (jsh jsonSignedHeader) toSignedHeader() (*types.SignedHeader, error) {
	if jsh.Header == nil || jsh.Commit == nil {
		return nil, errors.New("signed header is missing header or commit")
	}

	height, err := strconv.ParseInt(jsh.Header.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed header height %q: %w", jsh.Header.Height, err)
	}
	commitHeight, err := strconv.ParseInt(jsh.Commit.Height, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed commit height %q: %w", jsh.Commit.Height, err)
	}

	sigs := make([]types.CommitSig, len(jsh.Commit.Signatures))
	for i, js := range jsh.Commit.Signatures {
		sigs[i] = types.CommitSig{
			BlockIDFlag:      js.BlockIDFlag,
			ValidatorAddress: js.ValidatorAddress,
			Timestamp:        js.Timestamp,
			Signature:        js.Signature,
		}
	}

	return &types.SignedHeader{
		Header: &types.Header{
			ChainID:            jsh.Header.ChainID,
			Height:             height,
			Time:               jsh.Header.Time,
			LastBlockID:        jsh.Header.LastBlockID.toBlockID(),
			LastCommitHash:     jsh.Header.LastCommitHash,
			DataHash:           jsh.Header.DataHash,
			ValidatorsHash:     jsh.Header.ValidatorsHash,
			NextValidatorsHash: jsh.Header.NextValidatorsHash,
			ConsensusHash:      jsh.Header.ConsensusHash,
			AppHash:            jsh.Header.AppHash,
			LastResultsHash:    jsh.Header.LastResultsHash,
			ProposerAddress:    jsh.Header.ProposerAddress,
		},
		Commit: &types.Commit{
			Height:     commitHeight,
			Round:      jsh.Commit.Round,
			BlockID:    jsh.Commit.BlockID.toBlockID(),
			Signatures: sigs,
		},
	}, nil
}

func (p *http) validatorSet(ctx context.Context, height int64) (*types.ValidatorSet, error) {
	var (
		page = 1
		vals []*types.Validator
	)

	for len(vals) == 0 || len(vals)%maxValsPerPage == 0 {
		result, err := p.call(ctx, "/validators", map[string]string{
			"height":   strconv.FormatInt(height, 10),
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(maxValsPerPage),
		})
		if err != nil {
			return nil, err
		}

		var res struct {
			Validators []jsonValidator `json:"validators"`
			Total      string          `json:"total"`
		}
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("malformed /validators response: %w", err)}
		}
		if len(res.Validators) == 0 {
			return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("no validators at height %d", height)}
		}

		for _, jv := range res.Validators {
			val, err := jv.toValidator()
			if err != nil {
				return nil, provider.ErrInvalidResponse{Reason: err}
			}
			vals = append(vals, val)
		}

		total, err := strconv.Atoi(res.Total)
		if err != nil {
			return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("malformed validator total %q", res.Total)}
		}
		if len(vals) >= total {
			break
		}
		page++
	}

	return types.NewValidatorSet(vals), nil
}

type jsonValidator struct {
	Address string `json:"address"`
	PubKey  struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"pub_key"`
	VotingPower string `json:"voting_power"`
}

func (jv jsonValidator) toValidator() (*types.Validator, error) {
	if !strings.Contains(strings.ToLower(jv.PubKey.Type), ed25519.KeyType) {
		return nil, fmt.Errorf("unsupported validator key type %q", jv.PubKey.Type)
	}
	key, err := base64.StdEncoding.DecodeString(jv.PubKey.Value)
	if err != nil {
		return nil, fmt.Errorf("malformed validator pubkey: %w", err)
	}
	if len(key) != ed25519.PubKeySize {
		return nil, fmt.Errorf("validator pubkey is %d bytes, want %d", len(key), ed25519.PubKeySize)
	}
	power, err := strconv.ParseInt(jv.VotingPower, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed voting power %q: %w", jv.VotingPower, err)
	}
	return types.NewValidator(ed25519.PubKey(key), power), nil
}

// call performs one GET request against the RPC endpoint and returns the raw
// JSON-RPC result payload.
func (p *http) call(ctx context.Context, path string, params map[string]string) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	u := p.remote + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		u += "?" + q.Encode()
	}

	start := time.Now()

	req, err := nethttp.NewRequestWithContext(reqCtx, nethttp.MethodGet, u, nil)
	if err != nil {
		return nil, provider.ErrTransport{Reason: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.ErrTimeout{Elapsed: time.Since(start)}
		}
		return nil, provider.ErrTransport{Reason: err}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.ErrTimeout{Elapsed: time.Since(start)}
		}
		return nil, provider.ErrTransport{Reason: err}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    string `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("malformed RPC response: %w", err)}
	}

	if rpcResp.Error != nil {
		msg := rpcResp.Error.Message + " " + rpcResp.Error.Data
		switch {
		case regexpTooHigh.MatchString(msg):
			return nil, provider.ErrHeightTooHigh
		case regexpMissing.MatchString(msg):
			return nil, provider.ErrLightBlockNotFound
		default:
			return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, msg)}
		}
	}

	if resp.StatusCode != nethttp.StatusOK {
		return nil, provider.ErrTransport{Reason: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	return rpcResp.Result, nil
}
