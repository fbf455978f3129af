package db

import (
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/tenderlight/tenderlight/store"
	"github.com/tenderlight/tenderlight/types"
)

// keyPrefix namespaces all light block entries within the underlying
// database, so several stores (one per chain id) can share a backend.
const keyPrefix = "lb"

var _ store.Store = (*dbs)(nil)

type dbs struct {
	db dbm.DB
}

// New returns a Store backed by the given key-value database. Keys are
// ordered by (status, height), values are the canonical binary encoding of
// the light block.
func New(db dbm.DB) store.Store {
	return &dbs{db: db}
}

func (s *dbs) Get(height int64, status store.Status) (*types.LightBlock, error) {
	if height <= 0 {
		return nil, fmt.Errorf("height must be > 0, got %d", height)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %d", status)
	}

	bz, err := s.db.Get(lbKey(status, height))
	if err != nil {
		return nil, fmt.Errorf("store get: %w", err)
	}
	if len(bz) == 0 {
		return nil, store.ErrLightBlockNotFound
	}

	return decodeLightBlock(bz)
}

func (s *dbs) Insert(lb *types.LightBlock, status store.Status) error {
	if lb == nil || lb.SignedHeader == nil {
		return fmt.Errorf("nil light block")
	}
	if lb.Height <= 0 {
		return fmt.Errorf("height must be > 0, got %d", lb.Height)
	}
	if !status.Valid() {
		return fmt.Errorf("unknown status %d", status)
	}

	bz, err := encodeLightBlock(lb)
	if err != nil {
		return err
	}

	// SetSync for crash consistency: a reader after restart must observe a
	// committed prefix of the verification trace.
	if err := s.db.SetSync(lbKey(status, lb.Height), bz); err != nil {
		return fmt.Errorf("store insert: %w", err)
	}

	return nil
}

func (s *dbs) Update(lb *types.LightBlock, newStatus store.Status) error {
	if lb == nil || lb.SignedHeader == nil {
		return fmt.Errorf("nil light block")
	}
	if !newStatus.Valid() {
		return fmt.Errorf("unknown status %d", newStatus)
	}

	// find the status the block is currently stored under
	var current store.Status
	found := false
	for _, st := range []store.Status{store.StatusUnverified, store.StatusVerified, store.StatusTrusted, store.StatusFailed} {
		bz, err := s.db.Get(lbKey(st, lb.Height))
		if err != nil {
			return fmt.Errorf("store update: %w", err)
		}
		if len(bz) != 0 {
			current = st
			found = true
			break
		}
	}
	if !found {
		return store.ErrLightBlockNotFound
	}

	if !store.ValidTransition(current, newStatus) {
		return fmt.Errorf("invalid status transition %s -> %s at height %d", current, newStatus, lb.Height)
	}

	bz, err := encodeLightBlock(lb)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(lbKey(current, lb.Height)); err != nil {
		return fmt.Errorf("store update: %w", err)
	}
	if err := batch.Set(lbKey(newStatus, lb.Height), bz); err != nil {
		return fmt.Errorf("store update: %w", err)
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("store update: %w", err)
	}
	return nil
}

func (s *dbs) Delete(height int64, status store.Status) error {
	if height <= 0 {
		return fmt.Errorf("height must be > 0, got %d", height)
	}
	if err := s.db.DeleteSync(lbKey(status, height)); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

func (s *dbs) Highest(status store.Status) (*types.LightBlock, error) {
	itr, err := s.db.ReverseIterator(statusStart(status), statusEnd(status))
	if err != nil {
		return nil, fmt.Errorf("store iterator: %w", err)
	}
	defer itr.Close()

	if !itr.Valid() {
		if err := itr.Error(); err != nil {
			return nil, fmt.Errorf("store iterator: %w", err)
		}
		return nil, store.ErrLightBlockNotFound
	}

	return decodeLightBlock(itr.Value())
}

func (s *dbs) Lowest(status store.Status) (*types.LightBlock, error) {
	itr, err := s.db.Iterator(statusStart(status), statusEnd(status))
	if err != nil {
		return nil, fmt.Errorf("store iterator: %w", err)
	}
	defer itr.Close()

	if !itr.Valid() {
		if err := itr.Error(); err != nil {
			return nil, fmt.Errorf("store iterator: %w", err)
		}
		return nil, store.ErrLightBlockNotFound
	}

	return decodeLightBlock(itr.Value())
}

func (s *dbs) All(status store.Status) ([]*types.LightBlock, error) {
	itr, err := s.db.Iterator(statusStart(status), statusEnd(status))
	if err != nil {
		return nil, fmt.Errorf("store iterator: %w", err)
	}
	defer itr.Close()

	var blocks []*types.LightBlock
	for ; itr.Valid(); itr.Next() {
		lb, err := decodeLightBlock(itr.Value())
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, lb)
	}
	if err := itr.Error(); err != nil {
		return nil, fmt.Errorf("store iterator: %w", err)
	}

	return blocks, nil
}

func (s *dbs) Prune(size uint16, status store.Status) error {
	heights := make([]int64, 0)

	itr, err := s.db.Iterator(statusStart(status), statusEnd(status))
	if err != nil {
		return fmt.Errorf("store iterator: %w", err)
	}
	for ; itr.Valid(); itr.Next() {
		height, err := parseLbKey(itr.Key())
		if err != nil {
			itr.Close()
			return err
		}
		heights = append(heights, height)
	}
	if err := itr.Error(); err != nil {
		itr.Close()
		return fmt.Errorf("store iterator: %w", err)
	}
	itr.Close()

	excess := len(heights) - int(size)
	if excess <= 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	// remove the oldest entries first
	for _, height := range heights[:excess] {
		if err := batch.Delete(lbKey(status, height)); err != nil {
			return fmt.Errorf("store prune: %w", err)
		}
	}

	if err := batch.WriteSync(); err != nil {
		return fmt.Errorf("store prune: %w", err)
	}
	return nil
}

func (s *dbs) Size() uint16 {
	var n uint16

	itr, err := s.db.Iterator(prefixStart(), prefixEnd())
	if err != nil {
		return 0
	}
	defer itr.Close()

	for ; itr.Valid(); itr.Next() {
		n++
	}
	return n
}

//---------------------------------- keys

func lbKey(status store.Status, height int64) []byte {
	key, err := orderedcode.Append(nil, keyPrefix, int64(status), height)
	if err != nil {
		panic(err)
	}
	return key
}

func parseLbKey(key []byte) (int64, error) {
	var (
		prefix string
		status int64
		height int64
	)
	remaining, err := orderedcode.Parse(string(key), &prefix, &status, &height)
	if err != nil {
		return 0, fmt.Errorf("failed to parse light block key: %w", err)
	}
	if len(remaining) != 0 {
		return 0, fmt.Errorf("unexpected remainder in light block key: %q", remaining)
	}
	if prefix != keyPrefix {
		return 0, fmt.Errorf("unexpected prefix in light block key: %q", prefix)
	}
	return height, nil
}

func statusStart(status store.Status) []byte {
	key, err := orderedcode.Append(nil, keyPrefix, int64(status))
	if err != nil {
		panic(err)
	}
	return key
}

func statusEnd(status store.Status) []byte {
	key, err := orderedcode.Append(nil, keyPrefix, int64(status)+1)
	if err != nil {
		panic(err)
	}
	return key
}

func prefixStart() []byte {
	key, err := orderedcode.Append(nil, keyPrefix)
	if err != nil {
		panic(err)
	}
	return key
}

func prefixEnd() []byte {
	key, err := orderedcode.Append(nil, keyPrefix+"\xff")
	if err != nil {
		panic(err)
	}
	return key
}
