package light

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tenderlight/tenderlight/libs/log"
	tmmath "github.com/tenderlight/tenderlight/libs/math"
	"github.com/tenderlight/tenderlight/provider"
	"github.com/tenderlight/tenderlight/store"
	"github.com/tenderlight/tenderlight/types"
)

const (
	defaultMaxRetryAttempts = 3
	defaultPruningSize      = 1000
	// retry backoff between attempts against the same peer
	retryBackoff = 500 * time.Millisecond
)

// TrustOptions seed the client with an externally obtained trust root: a
// height/hash pair the operator got from a source they trust (social
// consensus, a block explorer, another node), plus how long headers from that
// chain stay trustworthy.
type TrustOptions struct {
	Period time.Duration
	Height int64
	Hash   []byte
}

func (opts TrustOptions) ValidateBasic() error {
	if opts.Period <= 0 {
		return errors.New("trusting period must be positive")
	}
	if opts.Height <= 0 {
		return errors.New("trust height must be positive")
	}
	if len(opts.Hash) != 32 {
		return fmt.Errorf("expected a 32 byte trust hash, got %d bytes", len(opts.Hash))
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// TrustLevel sets the fraction of the trusted validator set that must sign a
// non-adjacent candidate. Must lie in [1/3, 1]; the default is 1/3.
func TrustLevel(lvl tmmath.Fraction) Option {
	return func(c *Client) { c.options.TrustThreshold = lvl }
}

// MaxClockDrift tolerates this much disagreement between the local clock and
// block times. The default is 0.
func MaxClockDrift(d time.Duration) Option {
	return func(c *Client) { c.options.ClockDrift = d }
}

// MaxRetryAttempts bounds how often a timed-out or transport-failed request is
// retried against the same peer before the failure is surfaced. Default 3.
func MaxRetryAttempts(n uint16) Option {
	return func(c *Client) { c.maxRetryAttempts = n }
}

// PruningSize caps the number of verified blocks retained in the store after a
// successful run; the oldest are evicted first. 0 disables pruning.
func PruningSize(n uint16) Option {
	return func(c *Client) { c.pruningSize = n }
}

// WithScheduler replaces the midpoint bisection policy. The pivot returned by
// s must lie strictly between its arguments.
func WithScheduler(s Scheduler) Option {
	return func(c *Client) { c.scheduler = s }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// WithLogger sets the logger. Discards by default.
func WithLogger(l log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics collector. NopMetrics by default.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is a light client supervisor: it verifies headers from a primary
// provider using bisection, cross-checks the result against witnesses, and
// persists the verified chain in a status-keyed store.
//
// A Client is safe for use by a single caller at a time; concurrent
// invocations of the verification methods are serialised internally.
type Client struct {
	chainID          string
	options          Options
	maxRetryAttempts uint16
	pruningSize      uint16
	scheduler        Scheduler
	clock            clock.Clock
	logger           log.Logger
	metrics          *Metrics

	mtx       sync.Mutex
	primary   provider.Provider
	witnesses []provider.Provider
	store     store.Store
	reporter  *reporter
}

// NewClient builds a client seeded with trustOpts: the block at
// trustOpts.Height is fetched from the primary, checked against
// trustOpts.Hash, and stored as the trust root. The given store may already
// contain blocks from a previous run; a stored trusted block matching
// trustOpts wins over a fresh fetch.
func NewClient(
	ctx context.Context,
	chainID string,
	trustOpts TrustOptions,
	primary provider.Provider,
	witnesses []provider.Provider,
	trustedStore store.Store,
	options ...Option,
) (*Client, error) {
	if err := trustOpts.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid trust options: %w", err)
	}

	c, err := newClient(chainID, trustOpts.Period, primary, witnesses, trustedStore, options...)
	if err != nil {
		return nil, err
	}

	if err := c.initialize(ctx, trustOpts); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientFromTrustedStore builds a client from a store that already holds a
// trusted block. ErrNoInitialTrustedState is returned when it does not.
func NewClientFromTrustedStore(
	chainID string,
	trustingPeriod time.Duration,
	primary provider.Provider,
	witnesses []provider.Provider,
	trustedStore store.Store,
	options ...Option,
) (*Client, error) {
	c, err := newClient(chainID, trustingPeriod, primary, witnesses, trustedStore, options...)
	if err != nil {
		return nil, err
	}

	if _, err := trustedStore.Highest(store.StatusTrusted); err != nil {
		if errors.Is(err, store.ErrLightBlockNotFound) {
			return nil, ErrNoInitialTrustedState
		}
		return nil, ErrStoreBackend{Reason: err}
	}
	return c, nil
}

func newClient(
	chainID string,
	trustingPeriod time.Duration,
	primary provider.Provider,
	witnesses []provider.Provider,
	trustedStore store.Store,
	options ...Option,
) (*Client, error) {
	c := &Client{
		chainID: chainID,
		options: Options{
			TrustThreshold: DefaultTrustThreshold,
			TrustingPeriod: trustingPeriod,
		},
		maxRetryAttempts: defaultMaxRetryAttempts,
		pruningSize:      defaultPruningSize,
		scheduler:        MidpointScheduler,
		clock:            clock.New(),
		logger:           log.NewNopLogger(),
		metrics:          NopMetrics(),
		primary:          primary,
		witnesses:        witnesses,
		store:            trustedStore,
		reporter:         newReporter(),
	}
	for _, o := range options {
		o(c)
	}

	if c.primary == nil {
		return nil, ErrNoPrimary
	}
	if len(c.witnesses) == 0 {
		return nil, ErrNoWitnesses
	}
	if err := c.options.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// initialize establishes the trust root. A matching stored trusted block is
// reused; otherwise the block is fetched from the primary and pinned to the
// configured hash.
func (c *Client) initialize(ctx context.Context, trustOpts TrustOptions) error {
	stored, err := c.store.Get(trustOpts.Height, store.StatusTrusted)
	switch {
	case err == nil:
		if !bytes.Equal(stored.Hash(), trustOpts.Hash) {
			return fmt.Errorf("stored trusted block hash %X does not match configured hash %X",
				stored.Hash(), trustOpts.Hash)
		}
		return nil
	case errors.Is(err, store.ErrLightBlockNotFound):
		// fall through to fetch
	default:
		return ErrStoreBackend{Reason: err}
	}

	lb, err := c.fetch(ctx, c.primary, trustOpts.Height)
	if err != nil {
		return err
	}
	if !bytes.Equal(lb.Hash(), trustOpts.Hash) {
		return fmt.Errorf("fetched header hash %X does not match configured trust hash %X at height %d",
			lb.Hash(), trustOpts.Hash, trustOpts.Height)
	}
	if err := lb.ValidateBasic(c.chainID); err != nil {
		return ErrInvalidLightBlock{Reason: err}
	}
	if HeaderExpired(lb.SignedHeader, c.options.TrustingPeriod, c.clock.Now()) {
		return ErrTrustedStateOutsideTrustingPeriod{
			TrustedBlock:   lb,
			TrustingPeriod: c.options.TrustingPeriod,
		}
	}
	// the trust root's own commit must clear 2/3 of its validator set
	if err := lb.ValidatorSet.VerifyCommitLight(
		c.chainID, lb.Commit.BlockID, lb.Height, lb.Commit,
	); err != nil {
		return ErrInvalidLightBlock{Reason: err}
	}

	if err := c.store.Insert(lb, store.StatusTrusted); err != nil {
		return ErrStoreBackend{Reason: err}
	}
	c.logger.Info("trust root established", "height", lb.Height, "hash", log.NewHexadecimal(lb.Hash()))
	return nil
}

// ChainID returns the chain this client verifies.
func (c *Client) ChainID() string { return c.chainID }

// Primary returns the primary provider.
func (c *Client) Primary() provider.Provider {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.primary
}

// Witnesses returns the witness providers.
func (c *Client) Witnesses() []provider.Provider {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.witnesses
}

// LatestTrusted returns the highest block the operator or seeding marked
// trusted, or nil when the store has none.
func (c *Client) LatestTrusted() (*types.LightBlock, error) {
	lb, err := c.store.Highest(store.StatusTrusted)
	if errors.Is(err, store.ErrLightBlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrStoreBackend{Reason: err}
	}
	return lb, nil
}

// TrustedLightBlock returns the block at the given height if its status is
// trusted or verified.
func (c *Client) TrustedLightBlock(height int64) (*types.LightBlock, error) {
	for _, st := range []store.Status{store.StatusTrusted, store.StatusVerified} {
		lb, err := c.store.Get(height, st)
		if err == nil {
			return lb, nil
		}
		if !errors.Is(err, store.ErrLightBlockNotFound) {
			return nil, ErrStoreBackend{Reason: err}
		}
	}
	return nil, ErrNoTrustedState{Status: store.StatusTrusted}
}

// MarkTrusted promotes a verified block to trusted. This is the explicit
// operator act that moves the trust frontier; verification alone never does.
func (c *Client) MarkTrusted(height int64) (*types.LightBlock, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	lb, err := c.store.Get(height, store.StatusVerified)
	if err != nil {
		if errors.Is(err, store.ErrLightBlockNotFound) {
			return nil, ErrNoTrustedState{Status: store.StatusVerified}
		}
		return nil, ErrStoreBackend{Reason: err}
	}
	if err := c.store.Update(lb, store.StatusTrusted); err != nil {
		return nil, ErrStoreBackend{Reason: err}
	}
	return lb, nil
}

// VerifyToLatest asks the primary for its latest block and verifies the chain
// up to it. The verified block is returned; its status in the store is
// verified, not trusted.
func (c *Client) VerifyToLatest(ctx context.Context) (*types.LightBlock, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if _, err := c.freshFrontier(); err != nil {
		return nil, err
	}
	target, err := c.fetch(ctx, c.primary, provider.LatestHeight)
	if err != nil {
		return nil, err
	}
	return c.verifyToTarget(ctx, target)
}

// VerifyToHeight verifies the chain from the latest trusted block up to the
// given height and returns the block at that height.
//
// If the height is already verified or trusted, the stored block is returned
// without any I/O. Heights at or below the trust frontier that are absent
// from the store yield ErrTargetLowerThanTrustedState.
func (c *Client) VerifyToHeight(ctx context.Context, height int64) (*types.LightBlock, error) {
	if height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", height)
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	// Fast path: nothing to do when the height is already covered.
	if lb, err := c.trustedOrVerifiedAt(height); err == nil {
		return lb, nil
	} else if !errors.Is(err, store.ErrLightBlockNotFound) {
		return nil, err
	}

	frontier, err := c.freshFrontier()
	if err != nil {
		return nil, err
	}
	if height <= frontier.Height {
		return nil, ErrTargetLowerThanTrustedState{Target: height, Trusted: frontier.Height}
	}

	target, err := c.fetch(ctx, c.primary, height)
	if err != nil {
		return nil, err
	}
	return c.verifyToTarget(ctx, target)
}

// ReportEvidence submits evidence of a fork to the primary and all witnesses.
func (c *Client) ReportEvidence(ctx context.Context, ev types.Evidence) error {
	c.mtx.Lock()
	peers := append([]provider.Provider{c.primary}, c.witnesses...)
	c.mtx.Unlock()
	return c.reporter.report(ctx, peers, c.chainID, ev)
}

// verifyToTarget runs bisection from the current trust frontier to target,
// cross-checks the resulting trace against the witnesses, and only then
// promotes the trace to verified. Callers hold c.mtx.
func (c *Client) verifyToTarget(ctx context.Context, target *types.LightBlock) (*types.LightBlock, error) {
	now := c.clock.Now()

	frontier, err := c.freshFrontier()
	if err != nil {
		return nil, err
	}
	if target.Height <= frontier.Height {
		lb, err := c.trustedOrVerifiedAt(target.Height)
		if err == nil {
			return lb, nil
		}
		if !errors.Is(err, store.ErrLightBlockNotFound) {
			return nil, err
		}
		return nil, ErrTargetLowerThanTrustedState{Target: target.Height, Trusted: frontier.Height}
	}

	c.logger.Info("verifying to target", "from", frontier.Height, "to", target.Height)

	trace, err := c.bisectAgainst(ctx, c.primary, c.store, frontier, target, now)
	if err != nil {
		return nil, err
	}

	if err := c.detectDivergence(ctx, trace, now); err != nil {
		return nil, err
	}

	// Witnesses agree. Commit the trace in ascending height order so a crash
	// leaves a contiguous verified prefix.
	for _, lb := range trace[1:] {
		if err := c.store.Update(lb, store.StatusVerified); err != nil {
			return nil, ErrStoreBackend{Reason: err}
		}
	}
	c.metrics.VerifiedHeight.Set(float64(target.Height))

	if c.pruningSize > 0 {
		if err := c.store.Prune(c.pruningSize, store.StatusVerified); err != nil {
			return nil, ErrStoreBackend{Reason: err}
		}
	}

	return target, nil
}

// bisectAgainst verifies target against trusted, fetching intermediate blocks
// from prov as the scheduler demands. It returns the verified trace in
// ascending height order, starting with trusted, without changing any block's
// status beyond unverified/failed.
func (c *Client) bisectAgainst(
	ctx context.Context,
	prov provider.Provider,
	st store.Store,
	trusted, target *types.LightBlock,
	now time.Time,
) ([]*types.LightBlock, error) {
	if err := st.Insert(target, store.StatusUnverified); err != nil {
		return nil, ErrStoreBackend{Reason: err}
	}

	var (
		stack = []*types.LightBlock{target}
		trace = []*types.LightBlock{trusted}
	)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := stack[len(stack)-1]
		verdict := Verify(trusted, candidate, c.options, now)
		c.metrics.VerifierCalls.Add(1)

		switch verdict.Kind {
		case VerdictSuccess:
			trusted = candidate
			trace = append(trace, candidate)
			stack = stack[:len(stack)-1]

		case VerdictNotEnoughTrust:
			low, high := trusted.Height, candidate.Height
			if high-low <= 1 {
				return nil, ErrBisectionFailed{Low: low, High: high}
			}
			pivot := c.scheduler(low, high)
			if err := validPivot(pivot, low, high); err != nil {
				return nil, ErrBisectionFailed{Low: low, High: high}
			}
			c.logger.Debug("not enough trust, bisecting",
				"low", low, "high", high, "pivot", pivot,
				"tally", verdict.Tally, "total", verdict.Total)
			c.metrics.Bisections.Add(1)

			mid, err := c.fetch(ctx, prov, pivot)
			if err != nil {
				return nil, err
			}
			if err := st.Insert(mid, store.StatusUnverified); err != nil {
				return nil, ErrStoreBackend{Reason: err}
			}
			stack = append(stack, mid)

		case VerdictExpired:
			if HeaderExpired(trusted.SignedHeader, c.options.TrustingPeriod, now) {
				return nil, ErrTrustedStateOutsideTrustingPeriod{
					TrustedBlock:   trusted,
					TrustingPeriod: c.options.TrustingPeriod,
				}
			}
			fallthrough

		case VerdictInvalid:
			reason := verdict.Reason
			if reason == nil {
				reason = fmt.Errorf("block at height %d is outside the trusting period", candidate.Height)
			}
			if err := st.Update(candidate, store.StatusFailed); err != nil {
				c.logger.Error("failed to mark block failed", "height", candidate.Height, "err", err)
			}
			return nil, ErrInvalidLightBlock{Reason: reason}
		}
	}

	return trace, nil
}

// freshFrontier returns the trust frontier after checking it is still inside
// the trusting period. Verification must never proceed, and no I/O may be
// issued, from an aged-out root.
func (c *Client) freshFrontier() (*types.LightBlock, error) {
	frontier, err := c.frontier()
	if err != nil {
		return nil, err
	}
	if HeaderExpired(frontier.SignedHeader, c.options.TrustingPeriod, c.clock.Now()) {
		return nil, ErrTrustedStateOutsideTrustingPeriod{
			TrustedBlock:   frontier,
			TrustingPeriod: c.options.TrustingPeriod,
		}
	}
	return frontier, nil
}

// frontier returns the highest trusted-or-verified block.
func (c *Client) frontier() (*types.LightBlock, error) {
	var frontier *types.LightBlock
	for _, st := range []store.Status{store.StatusTrusted, store.StatusVerified} {
		lb, err := c.store.Highest(st)
		if err != nil {
			if errors.Is(err, store.ErrLightBlockNotFound) {
				continue
			}
			return nil, ErrStoreBackend{Reason: err}
		}
		if frontier == nil || lb.Height > frontier.Height {
			frontier = lb
		}
	}
	if frontier == nil {
		return nil, ErrNoInitialTrustedState
	}
	return frontier, nil
}

func (c *Client) trustedOrVerifiedAt(height int64) (*types.LightBlock, error) {
	for _, st := range []store.Status{store.StatusTrusted, store.StatusVerified} {
		lb, err := c.store.Get(height, st)
		if err == nil {
			return lb, nil
		}
		if !errors.Is(err, store.ErrLightBlockNotFound) {
			return nil, ErrStoreBackend{Reason: err}
		}
	}
	return nil, store.ErrLightBlockNotFound
}

// fetch gets a light block from a peer, retrying timeouts and transport
// failures up to maxRetryAttempts with a flat backoff. Verification failures
// and protocol errors are never retried.
func (c *Client) fetch(ctx context.Context, prov provider.Provider, height int64) (*types.LightBlock, error) {
	var lastErr error
	for attempt := uint16(0); attempt <= c.maxRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.clock.After(retryBackoff):
			}
		}

		lb, err := prov.LightBlock(ctx, height)
		if err == nil {
			c.metrics.FetchedBlocks.Add(1)
			return lb, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) {
			break
		}
		c.logger.Debug("retrying fetch", "peer", prov.ID(), "height", height,
			"attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("failed to obtain light block at height %d from %s: %w",
		height, prov.ID(), lastErr)
}
