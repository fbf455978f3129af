// Package mock provides a deterministic, map-backed provider for tests.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/types"
)

// Mock serves light blocks from an in-memory map. It is safe for concurrent
// use and records every evidence report for later inspection.
type Mock struct {
	id types.PeerID

	mtx         sync.Mutex
	headers     map[int64]*types.SignedHeader
	vals        map[int64]*types.ValidatorSet
	evidence    []types.Evidence
	latestDrop  int64
	returnError error
}

var _ provider.Provider = (*Mock)(nil)

// New creates a mock provider with the given headers and validator sets. The
// validator map must also contain the set for max(headers)+1 so NextValidators
// can be populated.
func New(id string, headers map[int64]*types.SignedHeader, vals map[int64]*types.ValidatorSet) *Mock {
	return &Mock{
		id:      types.PeerID(id),
		headers: headers,
		vals:    vals,
	}
}

func (p *Mock) ID() types.PeerID { return p.id }

func (p *Mock) String() string {
	return fmt.Sprintf("mock{%s: %d blocks}", p.id, len(p.headers))
}

func (p *Mock) LightBlock(ctx context.Context, height int64) (*types.LightBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.returnError != nil {
		return nil, p.returnError
	}

	var lb *types.LightBlock
	if height > p.latestHeight() {
		return nil, provider.ErrHeightTooHigh
	}
	if height == 0 { // latest
		height = p.latestHeight()
	}
	if sh, ok := p.headers[height]; ok {
		lb = &types.LightBlock{
			SignedHeader:   sh,
			ValidatorSet:   p.vals[height],
			NextValidators: p.vals[height+1],
			Provider:       p.id,
		}
	}
	if lb == nil {
		return nil, provider.ErrLightBlockNotFound
	}
	if lb.SignedHeader == nil || lb.ValidatorSet == nil || lb.NextValidators == nil {
		return nil, provider.ErrInvalidResponse{Reason: fmt.Errorf("incomplete block at height %d", height)}
	}
	return lb, nil
}

func (p *Mock) ReportEvidence(_ context.Context, ev types.Evidence) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.evidence = append(p.evidence, ev)
	return nil
}

// EvidenceCount returns how many pieces of evidence were reported.
func (p *Mock) EvidenceCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.evidence)
}

// HasEvidence reports whether ev was previously reported to this provider.
func (p *Mock) HasEvidence(ev types.Evidence) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for _, e := range p.evidence {
		if bytes.Equal(e.Hash(), ev.Hash()) {
			return true
		}
	}
	return false
}

// AddLightBlock registers another block with the provider. The block's next
// validator set becomes the set served for the following height.
func (p *Mock) AddLightBlock(lb *types.LightBlock) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if err := lb.ValidateBasic(lb.ChainID); err != nil {
		panic(fmt.Sprintf("unable to add light block: %v", err))
	}
	p.headers[lb.Height] = lb.SignedHeader
	p.vals[lb.Height] = lb.ValidatorSet
	p.vals[lb.Height+1] = lb.NextValidators
}

// Copy returns a provider with the same blocks under a different ID.
func (p *Mock) Copy(id string) *Mock {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	headers := make(map[int64]*types.SignedHeader, len(p.headers))
	vals := make(map[int64]*types.ValidatorSet, len(p.vals))
	for h, sh := range p.headers {
		headers[h] = sh
	}
	for h, vs := range p.vals {
		vals[h] = vs
	}
	return New(id, headers, vals)
}

// Cap hides every block above height, simulating a peer that has stalled.
func (p *Mock) Cap(height int64) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.latestDrop = height
}

// SetReturnError makes every subsequent LightBlock call fail with err.
// Passing nil restores normal operation.
func (p *Mock) SetReturnError(err error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.returnError = err
}

func (p *Mock) latestHeight() int64 {
	var max int64
	for h := range p.headers {
		if h > max {
			max = h
		}
	}
	if p.latestDrop > 0 && p.latestDrop < max {
		max = p.latestDrop
	}
	return max
}
