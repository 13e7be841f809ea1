package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queryVectorCacheTTL     = 10 * time.Minute
	queryVectorCacheTimeout = 300 * time.Millisecond
)

// queryCache keeps recent query embeddings in Redis so repeated searches do
// not re-pay the embedding call. Every failure is treated as a cache miss.
type queryCache struct {
	client *redis.Client
}

func newQueryCache(client *redis.Client) *queryCache {
	if client == nil {
		return nil
	}
	return &queryCache{client: client}
}

func (q *queryCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), queryVectorCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= queryVectorCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, queryVectorCacheTimeout)
}

func (q *queryCache) key(model, query string) string {
	if q == nil || q.client == nil || model == "" || query == "" {
		return ""
	}
	digest := sha256.Sum256([]byte(query))
	return fmt.Sprintf("knowledge:qvec:%s:%s", model, hex.EncodeToString(digest[:]))
}

func (q *queryCache) get(ctx context.Context, model, query string) []float32 {
	if q == nil || q.client == nil {
		return nil
	}
	key := q.key(model, query)
	if key == "" {
		return nil
	}

	ctx, cancel := q.cacheContext(ctx)
	defer cancel()

	data, err := q.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil
	}
	if len(vector) == 0 {
		return nil
	}
	return vector
}

func (q *queryCache) store(ctx context.Context, model, query string, vector []float32) {
	if q == nil || q.client == nil || len(vector) == 0 {
		return
	}
	key := q.key(model, query)
	if key == "" {
		return
	}

	payload, err := json.Marshal(vector)
	if err != nil {
		log.Printf("knowledge: marshal query vector cache payload failed: %v", err)
		return
	}

	ctx, cancel := q.cacheContext(ctx)
	defer cancel()

	if err := q.client.Set(ctx, key, payload, queryVectorCacheTTL).Err(); err != nil {
		log.Printf("knowledge: store query vector cache failed: %v", err)
	}
}
