package light

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/creachadair/taskgroup"
	dbm "github.com/tendermint/tm-db"

	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/store"
	dbs "github.com/tenderlight/tenderlight/store/db"
	"github.com/tenderlight/tenderlight/types"
)

// Outcome of probing a single witness.
type witnessOutcome int

const (
	witnessAgreed witnessOutcome = iota
	witnessForked
	witnessFaulty
	witnessDropped
)

type witnessResult struct {
	witness provider.Provider
	outcome witnessOutcome

	// populated when outcome == witnessForked
	conflicting *types.LightBlock // witness's block at the divergent height
	challenged  *types.LightBlock // primary's block at the same height
	common      *types.LightBlock // last block both chains agree on
}

// detectDivergence cross-checks the primary's trace against every witness in
// parallel. Each witness runs its own verification on a private in-memory
// store; the shared store is never touched here.
//
// A verified conflicting chain from any witness is a fork: evidence is
// submitted in both directions and ErrForkDetected returned. Witnesses that
// fail verification themselves are marked faulty and removed; transient
// errors drop a witness for this round only. When nobody is left to agree,
// the result is ErrNoWitnessesLeft and the caller must not commit the trace.
//
// Callers hold c.mtx.
func (c *Client) detectDivergence(ctx context.Context, trace []*types.LightBlock, now time.Time) error {
	if len(trace) < 1 {
		return errors.New("empty verification trace")
	}
	if err := verifyTraceLinkage(trace); err != nil {
		return err
	}

	target := trace[len(trace)-1]
	results := make(chan witnessResult, len(c.witnesses))

	g := taskgroup.New(nil)
	for _, w := range c.witnesses {
		w := w
		g.Go(func() error {
			results <- c.probeWitness(ctx, w, trace, target, now)
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	var (
		agreed int
		total  int
		faulty []provider.Provider
		forked []witnessResult
	)
	for res := range results {
		total++
		switch res.outcome {
		case witnessAgreed:
			agreed++
		case witnessForked:
			forked = append(forked, res)
		case witnessFaulty:
			faulty = append(faulty, res.witness)
		case witnessDropped:
			c.logger.Info("witness dropped for this round", "witness", res.witness.ID())
			c.metrics.DroppedWitnesses.Add(1)
		}
	}
	if total != len(c.witnesses) {
		return ErrChannelDisconnected
	}

	c.removeWitnesses(faulty)

	if len(forked) > 0 {
		peers := make([]types.PeerID, 0, len(forked))
		for _, res := range forked {
			peers = append(peers, res.witness.ID())
			c.submitForkEvidence(ctx, res)
		}
		c.metrics.ForksDetected.Add(float64(len(forked)))
		return ErrForkDetected{Peers: peers}
	}
	if agreed == 0 {
		return ErrNoWitnessesLeft
	}
	return nil
}

// probeWitness asks one witness for the target height and, on a hash
// mismatch, walks the trace to the first divergent height and verifies the
// witness's competing chain from the last agreed block.
func (c *Client) probeWitness(
	ctx context.Context,
	witness provider.Provider,
	trace []*types.LightBlock,
	target *types.LightBlock,
	now time.Time,
) witnessResult {
	res := witnessResult{witness: witness}

	wb, err := c.fetch(ctx, witness, target.Height)
	if err != nil {
		res.outcome = witnessDropped
		return res
	}
	if bytes.Equal(wb.Hash(), target.Hash()) {
		res.outcome = witnessAgreed
		return res
	}

	// The witness disagrees at the target. Find the first height in the trace
	// where the chains part ways.
	lastAgreed := trace[0]
	for _, pb := range trace[1:] {
		wb, err = c.fetch(ctx, witness, pb.Height)
		if err != nil {
			res.outcome = witnessDropped
			return res
		}
		if bytes.Equal(wb.Hash(), pb.Hash()) {
			lastAgreed = pb
			continue
		}

		// Divergence. Does the witness's chain actually verify from the last
		// agreed block? Run the same bisection the primary went through, on a
		// throwaway store.
		ephemeral := dbs.New(dbm.NewMemDB())
		if err := ephemeral.Insert(lastAgreed, store.StatusTrusted); err != nil {
			res.outcome = witnessDropped
			return res
		}
		_, err := c.bisectAgainst(ctx, witness, ephemeral, lastAgreed, wb, now)
		switch {
		case err == nil:
			res.outcome = witnessForked
			res.conflicting = wb
			res.challenged = pb
			res.common = lastAgreed
		case errors.As(err, new(ErrInvalidLightBlock)):
			// The witness served a chain that does not verify: its own fault,
			// not a fork.
			c.logger.Error("witness served an unverifiable conflicting chain",
				"witness", witness.ID(), "height", pb.Height, "err", err)
			res.outcome = witnessFaulty
		default:
			res.outcome = witnessDropped
		}
		return res
	}

	// Every trace height matched yet the target hash did not: the witness
	// contradicted itself between fetches. Treat as faulty.
	res.outcome = witnessFaulty
	return res
}

// submitForkEvidence reports the witness's conflicting block to the primary
// side and the primary's block to the witness, so both networks learn of the
// attack regardless of which chain is canonical.
func (c *Client) submitForkEvidence(ctx context.Context, res witnessResult) {
	againstWitness := newAttackEvidence(res.conflicting, res.common)
	primarySide := append([]provider.Provider{c.primary}, c.witnessesExcept(res.witness)...)
	if err := c.reporter.report(ctx, primarySide, c.chainID, againstWitness); err != nil {
		c.logger.Error("failed to report evidence", "err", err)
	}

	againstPrimary := newAttackEvidence(res.challenged, res.common)
	if err := c.reporter.report(ctx, []provider.Provider{res.witness}, c.chainID, againstPrimary); err != nil {
		c.logger.Error("failed to report evidence", "err", err)
	}
}

func (c *Client) witnessesExcept(w provider.Provider) []provider.Provider {
	out := make([]provider.Provider, 0, len(c.witnesses))
	for _, cand := range c.witnesses {
		if cand.ID() != w.ID() {
			out = append(out, cand)
		}
	}
	return out
}

func (c *Client) removeWitnesses(faulty []provider.Provider) {
	if len(faulty) == 0 {
		return
	}
	kept := c.witnesses[:0]
	for _, w := range c.witnesses {
		isFaulty := false
		for _, f := range faulty {
			if w.ID() == f.ID() {
				isFaulty = true
				break
			}
		}
		if !isFaulty {
			kept = append(kept, w)
		}
	}
	c.witnesses = kept
}

// verifyTraceLinkage checks that the trace's heights strictly increase and
// that adjacent blocks reference each other through the last block id.
func verifyTraceLinkage(trace []*types.LightBlock) error {
	for i := 0; i+1 < len(trace); i++ {
		first, second := trace[i], trace[i+1]
		if second.Height <= first.Height {
			return ErrInvalidAdjacentHeaders{First: first.SignedHeader, Second: second.SignedHeader}
		}
		if second.Height == first.Height+1 {
			if len(second.LastBlockID.Hash) == 0 {
				return ErrMissingLastBlockID
			}
			if !bytes.Equal(second.LastBlockID.Hash, first.Hash()) {
				return ErrInvalidAdjacentHeaders{First: first.SignedHeader, Second: second.SignedHeader}
			}
		}
	}
	return nil
}
