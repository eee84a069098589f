package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"stockcast-api/internal/config"
	"stockcast-api/internal/metrics"
	"stockcast-api/internal/models"
)

const (
	historyCollection  = "price_history"
	forecastCollection = "forecasts"
	tickerCollection   = "tickers"

	redisPrefix = "stockcast"
)

// Generic in-memory cache with type safety
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]*cacheItem[V]
	ttl   time.Duration
	stop  chan struct{}
	once  sync.Once
}

type cacheItem[V any] struct {
	value      V
	expiration time.Time
}

func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]*cacheItem[V]),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}

	go c.cleanup(5 * time.Minute)

	return c
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	if !exists || time.Now().After(item.expiration) {
		var zero V
		return zero, false
	}

	return item.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem[V]{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*cacheItem[V])
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *Cache[K, V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Cache[K, V]) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}

// CacheService layers an in-memory cache over optional Redis and Firestore
// stores. Lookups go memory, Redis, Firestore; writes go to every layer.
type CacheService struct {
	ttl             time.Duration
	log             zerolog.Logger
	metrics         *metrics.Recorder
	redisClient     *redis.Client
	firestoreClient *firestore.Client
	historyCache    *Cache[string, *models.PriceHistory]
	forecastCache   *Cache[string, *models.ForecastResult]
	tickerCache     *Cache[string, *models.TickerData]
}

func NewCacheService(ctx context.Context, cfg *config.Config, log zerolog.Logger, rec *metrics.Recorder) *CacheService {
	log = log.With().Str("component", "cache").Logger()

	s := &CacheService{
		ttl:           cfg.CacheTTL,
		log:           log,
		metrics:       rec,
		historyCache:  NewCache[string, *models.PriceHistory](cfg.CacheTTL),
		forecastCache: NewCache[string, *models.ForecastResult](cfg.CacheTTL),
		tickerCache:   NewCache[string, *models.TickerData](time.Minute),
	}

	if cfg.RedisAddr != "" {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			// Keep the client; go-redis reconnects once the server is up.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis not reachable at startup")
		}
	}

	if cfg.FirestoreProject != "" {
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			log.Warn().Err(err).Str("project", cfg.FirestoreProject).Msg("failed to initialize firestore, continuing without it")
		} else {
			s.firestoreClient = client
		}
	}

	return s
}

// lookup walks the layers for key, back-filling faster layers on a hit.
func lookup[T any](ctx context.Context, s *CacheService, mem *Cache[string, *T], collection, key string, fresh func(*T) bool) (*T, bool) {
	if v, ok := mem.Get(key); ok {
		s.metrics.RecordCacheLookup("memory", true)
		return v, true
	}
	s.metrics.RecordCacheLookup("memory", false)

	if s.redisClient != nil {
		data, err := s.redisClient.Get(ctx, redisKey(collection, key)).Bytes()
		if err == nil {
			var v T
			if err := json.Unmarshal(data, &v); err == nil && fresh(&v) {
				s.metrics.RecordCacheLookup("redis", true)
				mem.Set(key, &v)
				return &v, true
			}
		} else if !errors.Is(err, redis.Nil) {
			s.log.Debug().Err(err).Str("key", key).Msg("redis get failed")
		}
		s.metrics.RecordCacheLookup("redis", false)
	}

	if s.firestoreClient != nil {
		doc, err := s.firestoreClient.Collection(collection).Doc(key).Get(ctx)
		if err == nil {
			var v T
			if err := doc.DataTo(&v); err == nil && fresh(&v) {
				s.metrics.RecordCacheLookup("firestore", true)
				mem.Set(key, &v)
				return &v, true
			}
		}
		s.metrics.RecordCacheLookup("firestore", false)
	}

	return nil, false
}

func store[T any](ctx context.Context, s *CacheService, mem *Cache[string, *T], collection, key string, v *T) error {
	mem.Set(key, v)

	var errs []error
	if s.redisClient != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("cache marshal failed: %w", err)
		}
		if err := s.redisClient.Set(ctx, redisKey(collection, key), data, s.ttl).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis set %s: %w", key, err))
		}
	}

	if s.firestoreClient != nil {
		if _, err := s.firestoreClient.Collection(collection).Doc(key).Set(ctx, v); err != nil {
			errs = append(errs, fmt.Errorf("firestore set %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func redisKey(collection, key string) string {
	return fmt.Sprintf("%s:%s:%s", redisPrefix, collection, key)
}

func (s *CacheService) GetHistory(ctx context.Context, symbol string) (*models.PriceHistory, bool) {
	return lookup(ctx, s, s.historyCache, historyCollection, symbol, func(h *models.PriceHistory) bool {
		return time.Since(h.FetchedAt) < s.ttl && len(h.Points) > 0
	})
}

func (s *CacheService) SetHistory(ctx context.Context, history *models.PriceHistory) error {
	return store(ctx, s, s.historyCache, historyCollection, history.Symbol, history)
}

func (s *CacheService) GetForecast(ctx context.Context, key string) (*models.ForecastResult, bool) {
	// A forecast is keyed by its input snapshot, so it only ages out by TTL.
	return lookup(ctx, s, s.forecastCache, forecastCollection, key, func(r *models.ForecastResult) bool {
		return time.Since(r.GeneratedAt) < s.ttl
	})
}

func (s *CacheService) SetForecast(ctx context.Context, key string, result *models.ForecastResult) error {
	return store(ctx, s, s.forecastCache, forecastCollection, key, result)
}

func (s *CacheService) GetTickerData(ctx context.Context, symbol string) (*models.TickerData, bool) {
	return lookup(ctx, s, s.tickerCache, tickerCollection, symbol, func(d *models.TickerData) bool {
		return time.Since(d.LastUpdated) < time.Minute
	})
}

func (s *CacheService) SetTickerData(ctx context.Context, data *models.TickerData) error {
	return store(ctx, s, s.tickerCache, tickerCollection, data.Symbol, data)
}

// Clear empties every cache layer.
func (s *CacheService) Clear(ctx context.Context) error {
	s.historyCache.Clear()
	s.forecastCache.Clear()
	s.tickerCache.Clear()

	var errs []error
	if s.redisClient != nil {
		iter := s.redisClient.Scan(ctx, 0, redisPrefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			if err := s.redisClient.Del(ctx, iter.Val()).Err(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := iter.Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis scan: %w", err))
		}
	}

	if s.firestoreClient != nil {
		for _, collection := range []string{historyCollection, forecastCollection, tickerCollection} {
			if err := s.clearCollection(ctx, collection); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

func (s *CacheService) clearCollection(ctx context.Context, collection string) error {
	docs := s.firestoreClient.Collection(collection).Documents(ctx)
	defer docs.Stop()

	for {
		doc, err := docs.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("firestore list %s: %w", collection, err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore delete %s/%s: %w", collection, doc.Ref.ID, err)
		}
	}
}

// Check reports the health of the remote cache layers.
func (s *CacheService) Check(ctx context.Context) map[string]string {
	checks := map[string]string{"memory": "ok"}

	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
		} else {
			checks["redis"] = "ok"
		}
	}

	if s.firestoreClient != nil {
		_, err := s.firestoreClient.Collection(forecastCollection).Limit(1).Documents(ctx).GetAll()
		if err != nil {
			checks["firestore"] = err.Error()
		} else {
			checks["firestore"] = "ok"
		}
	}

	return checks
}

// Close releases the remote clients and stops the in-memory janitors.
func (s *CacheService) Close() error {
	s.historyCache.Close()
	s.forecastCache.Close()
	s.tickerCache.Close()

	var errs []error
	if s.redisClient != nil {
		errs = append(errs, s.redisClient.Close())
	}
	if s.firestoreClient != nil {
		errs = append(errs, s.firestoreClient.Close())
	}
	return errors.Join(errs...)
}
