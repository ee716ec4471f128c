package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Nauflars/myshop-sub003/internal/domain"
)

// Cache holds the two hot read paths of the worker: resolved query vectors
// (so repeated search phrases skip the embedding API) and a bounded
// recently-seen message set used as the cheap dedup pre-check.
type Cache struct {
	Client *redis.Client

	queryTTL time.Duration
	seenTTL  time.Duration
}

func New(addr, pass string, db int, queryTTL time.Duration) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{
		Client:   rdb,
		queryTTL: queryTTL,
		seenTTL:  24 * time.Hour,
	}
}

func queryKey(phrase string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(phrase))))
	return "qvec:" + hex.EncodeToString(h[:])
}

func (c *Cache) GetQueryVector(ctx context.Context, phrase string) ([]float32, error) {
	val, err := c.Client.Get(ctx, queryKey(phrase)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal([]byte(val), &vec); err != nil {
		// Corrupt entry: treat as miss so it gets rewritten.
		return nil, domain.ErrCacheMiss
	}
	return vec, nil
}

func (c *Cache) SetQueryVector(ctx context.Context, phrase string, vec []float32) error {
	b, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return c.Client.Set(ctx, queryKey(phrase), b, c.queryTTL).Err()
}

// SeenMessage reports whether messageID was observed recently. Best effort:
// redis being down must never block processing, the store-side fence is
// authoritative.
func (c *Cache) SeenMessage(ctx context.Context, messageID string) bool {
	ok, err := c.Client.Exists(ctx, "msgseen:"+messageID).Result()
	return err == nil && ok > 0
}

func (c *Cache) MarkSeen(ctx context.Context, messageID string) {
	_ = c.Client.Set(ctx, "msgseen:"+messageID, 1, c.seenTTL).Err()
}
