package ingest

import (
	"context"
	"crypto"
	_ "crypto/sha1" // registers crypto.SHA1
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long a dedup key survives.
const DefaultDedupTTL = 7 * 24 * time.Hour

// DedupIndex records which raw messages were already accepted.
type DedupIndex interface {
	// AcceptIfNew returns true the first time key is seen and false afterwards.
	AcceptIfNew(ctx context.Context, key string) (bool, error)
}

// DedupKey derives the day-scoped content key for a raw queue message:
// "<prefix>:<YYYY-MM-DD>:<urlsafe base64 sha1>".
func DedupKey(prefix string, now time.Time, raw []byte) string {
	return prefix + ":" + now.Format(time.DateOnly) + ":" + digest(raw)
}

func digest(raw []byte) string {
	if !crypto.SHA1.Available() {
		return fallbackDigest(raw)
	}
	h := crypto.SHA1.New()
	_, _ = h.Write(raw)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// fallbackDigest is used on builds without SHA-1.
func fallbackDigest(raw []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return strconv.FormatUint(h.Sum64(), 36)
}

// RedisDedupIndex keeps dedup keys as expiring Redis strings.
type RedisDedupIndex struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisDedupIndex returns an index whose keys expire after ttl (DefaultDedupTTL if zero).
func NewRedisDedupIndex(rdb redis.Cmdable, ttl time.Duration) *RedisDedupIndex {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedupIndex{rdb: rdb, ttl: ttl}
}

// AcceptIfNew uses SET NX so the existence check and the write are one command.
func (d *RedisDedupIndex) AcceptIfNew(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx %s: %w", key, err)
	}
	return ok, nil
}

// MemDedupIndex is an in-process index for the memory queue backend.
type MemDedupIndex struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewMemDedupIndex keeps at most size keys, each for ttl.
func NewMemDedupIndex(size int, ttl time.Duration) *MemDedupIndex {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemDedupIndex{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *MemDedupIndex) AcceptIfNew(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache.Contains(key) {
		return false, nil
	}
	d.cache.Add(key, struct{}{})
	return true, nil
}

var (
	_ DedupIndex = (*RedisDedupIndex)(nil)
	_ DedupIndex = (*MemDedupIndex)(nil)
)
