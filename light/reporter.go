package light

import (
	"context"
	"fmt"
	"sync"

	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/types"
)

// reporter submits fork evidence and deduplicates within the process
// lifetime: the same (chain id, height, hash) is broadcast at most once no
// matter how many rounds of divergence checking rediscover it.
type reporter struct {
	mtx  sync.Mutex
	seen map[string]struct{}
}

func newReporter() *reporter {
	return &reporter{seen: make(map[string]struct{})}
}

// report sends ev to every peer. Per-peer failures are collected rather than
// aborting the broadcast: evidence should reach as many nodes as possible.
func (r *reporter) report(ctx context.Context, peers []provider.Provider, chainID string, ev types.Evidence) error {
	key := fmt.Sprintf("%s/%d/%X", chainID, ev.Height(), ev.Hash())

	r.mtx.Lock()
	if _, ok := r.seen[key]; ok {
		r.mtx.Unlock()
		return nil
	}
	r.seen[key] = struct{}{}
	r.mtx.Unlock()

	var firstErr error
	for _, p := range peers {
		if err := p.ReportEvidence(ctx, ev); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to report evidence to %s: %w", p.ID(), err)
		}
	}
	return firstErr
}

// newAttackEvidence pairs the conflicting block with the common trusted
// ancestor's height, which is where any on-chain punishment investigation
// starts.
func newAttackEvidence(conflicting *types.LightBlock, common *types.LightBlock) *types.LightClientAttackEvidence {
	return &types.LightClientAttackEvidence{
		ConflictingBlock: conflicting,
		CommonHeight:     common.Height,
		Timestamp:        common.Time,
		TotalVotingPower: common.ValidatorSet.TotalVotingPower(),
	}
}
