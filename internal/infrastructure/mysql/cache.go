package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/imthegoodboy/Paylink/internal/application"
	"github.com/imthegoodboy/Paylink/internal/domain"

	"github.com/redis/go-redis/v9"
)

const (
	listCacheVersionKey = "paylink:payments:version"
	listCacheKeyPrefix  = "paylink:payments:v"
	defaultCacheTTL     = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository layers a Redis read-through cache over slug list
// queries. Any successful insert bumps a version key, so stale entries
// age out without explicit deletes. Summaries are not cached: their
// "now" argument varies per call.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) InsertIfAbsent(ctx context.Context, payment domain.Payment) (bool, error) {
	inserted, err := r.Repository.InsertIfAbsent(ctx, payment)
	if err != nil {
		return false, err
	}
	if inserted {
		r.invalidateListCache(ctx)
	}
	return inserted, nil
}

func (r *CachedRepository) ListBySlug(ctx context.Context, slug string, limit int) ([]domain.Payment, error) {
	if r.cache == nil {
		return r.Repository.ListBySlug(ctx, slug, limit)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.ListBySlug(ctx, slug, limit)
	}
	key := listCacheKey(version, slug, limit)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var payments []domain.Payment
		if err := json.Unmarshal([]byte(cached), &payments); err == nil {
			return payments, nil
		}
	}

	payments, err := r.Repository.ListBySlug(ctx, slug, limit)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(payments)
	if err != nil {
		return payments, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return payments, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, listCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidateListCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, listCacheVersionKey).Err()
}

func listCacheKey(version, slug string, limit int) string {
	var b strings.Builder
	b.Grow(96)
	b.WriteString(listCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":slug=")
	b.WriteString(slug)
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(normalizeListLimit(limit)))
	return b.String()
}

func normalizeListLimit(limit int) int {
	if limit <= 0 || limit > application.MaxListLimit {
		return application.DefaultListLimit
	}
	return limit
}
