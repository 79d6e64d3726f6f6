// Package pool keeps the pending transaction set in a Redis-compatible
// store: an ordered set scores ids by (priority, submission time) and a
// keyed namespace holds the JSON records with a TTL. All multi-key updates
// go through one pipeline, which is the atomicity primitive producers and
// the processor share.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vocdoni/txdispatch/log"
	"github.com/vocdoni/txdispatch/types"
)

var (
	// ErrNoPending is returned when the ordered set is empty.
	ErrNoPending = errors.New("no pending transactions")
	// ErrNotFound is returned when an id has no record.
	ErrNotFound = errors.New("transaction record not found")
	// ErrPoolFull is returned by Add when the pool reached its cap.
	ErrPoolFull = errors.New("transaction pool is full")
)

const (
	// DefaultName is the ordered-set key of the pool.
	DefaultName = "transactions"

	// scoreFactor shifts the priority above any unix timestamp so that a
	// lower priority always wins and submission time breaks ties.
	scoreFactor = int64(10_000_000_000)

	malformedLogCacheSize = 256
)

// ComposeScore builds the pool score for a priority and submission time.
// The minimum score is served first.
func ComposeScore(priority int64, submittedAt time.Time) int64 {
	return priority*scoreFactor + submittedAt.Unix()
}

// Options tunes a TxPool.
type Options struct {
	// Name is the ordered-set key; DefaultName when empty.
	Name string
	// RecordTTL bounds the lifetime of transaction records.
	RecordTTL time.Duration
	// MaxSize caps the ordered set; 0 means unbounded.
	MaxSize int
	// IDLen truncates generated ids; 0 keeps them full length.
	IDLen int
	// DefaultMultiplier is stamped on enqueued transactions that carry no
	// gas multiplier.
	DefaultMultiplier float64
}

// TxPool is the shared prioritized queue.
type TxPool struct {
	rdb        redis.UniversalClient
	name       string
	ttl        time.Duration
	max        int
	idLen      int
	multiplier float64

	// malformedSeen deduplicates the error logs for records that keep
	// failing to decode until their TTL clears them.
	malformedSeen *lru.Cache[string, struct{}]
}

// New creates a pool on the given Redis client.
func New(rdb redis.UniversalClient, opts Options) *TxPool {
	name := opts.Name
	if name == "" {
		name = DefaultName
	}
	seen, err := lru.New[string, struct{}](malformedLogCacheSize)
	if err != nil {
		log.Fatalf("cannot create malformed-record cache: %v", err)
	}
	return &TxPool{
		rdb:           rdb,
		name:          name,
		ttl:           opts.RecordTTL,
		max:           opts.MaxSize,
		idLen:         opts.IDLen,
		multiplier:    opts.DefaultMultiplier,
		malformedSeen: seen,
	}
}

// Size returns the number of pending entries.
func (p *TxPool) Size(ctx context.Context) (int64, error) {
	return p.rdb.ZCard(ctx, p.name).Result()
}

// List returns all pending ids ordered by score. Introspection only.
func (p *TxPool) List(ctx context.Context) ([]string, error) {
	return p.rdb.ZRange(ctx, p.name, 0, -1).Result()
}

// Get loads and decodes the record of id. A missing record is ErrNotFound;
// a malformed one surfaces types.ErrInvalidFormat.
func (p *TxPool) Get(ctx context.Context, id string) (*types.Tx, error) {
	data, err := p.rdb.Get(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}
	return types.TxFromBytes(id, data)
}

// NextID returns the id with the minimum score.
func (p *TxPool) NextID(ctx context.Context) (string, error) {
	ids, err := p.rdb.ZRange(ctx, p.name, 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("next id: %w", err)
	}
	if len(ids) == 0 {
		return "", ErrNoPending
	}
	return ids[0], nil
}

// FetchNext pops head ids by score until one deserializes, dropping the
// malformed ones from the index as a side effect. It never blocks: an empty
// pool is ErrNoPending.
func (p *TxPool) FetchNext(ctx context.Context) (*types.Tx, error) {
	for {
		id, err := p.NextID(ctx)
		if err != nil {
			return nil, err
		}
		tx, err := p.Get(ctx, id)
		if err == nil {
			return tx, nil
		}
		if !errors.Is(err, types.ErrInvalidFormat) && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if _, logged := p.malformedSeen.Get(id); !logged {
			log.Errorw(err, "malformed pool record, dropping from index")
			p.malformedSeen.Add(id, struct{}{})
		}
		if err := p.Drop(ctx, id); err != nil {
			return nil, err
		}
	}
}

// Save rewrites the record of tx with the configured TTL. The index entry
// is untouched.
func (p *TxPool) Save(ctx context.Context, tx *types.Tx) error {
	if err := p.rdb.Set(ctx, tx.ID, tx.Bytes(), p.ttl).Err(); err != nil {
		return fmt.Errorf("save record %s: %w", tx.ID, err)
	}
	return nil
}

// Release writes the final record and removes the index entry in one
// pipeline. The record stays readable until its TTL expires.
func (p *TxPool) Release(ctx context.Context, tx *types.Tx) error {
	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, tx.ID, tx.Bytes(), p.ttl)
	pipe.ZRem(ctx, p.name, tx.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release %s: %w", tx.ID, err)
	}
	return nil
}

// Drop removes id from the index only.
func (p *TxPool) Drop(ctx context.Context, id string) error {
	if err := p.rdb.ZRem(ctx, p.name, id).Err(); err != nil {
		return fmt.Errorf("drop %s: %w", id, err)
	}
	return nil
}

// Add inserts the index entry and the record in one pipeline.
func (p *TxPool) Add(ctx context.Context, id string, score int64, record []byte) error {
	if p.max > 0 {
		size, err := p.Size(ctx)
		if err != nil {
			return err
		}
		if size >= int64(p.max) {
			return fmt.Errorf("%w: %d entries", ErrPoolFull, size)
		}
	}
	pipe := p.rdb.TxPipeline()
	pipe.ZAdd(ctx, p.name, redis.Z{Score: float64(score), Member: id})
	pipe.Set(ctx, id, record, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add %s: %w", id, err)
	}
	return nil
}
