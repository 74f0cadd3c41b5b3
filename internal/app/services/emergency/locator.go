package emergency

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/servimap/servimap/internal/app/storage"
	"github.com/servimap/servimap/internal/geo"
)

// Locator narrows the set of providers considered for an emergency match.
// Results are candidates only; the service re-checks every eligibility rule.
type Locator interface {
	Nearby(ctx context.Context, point geo.Point, radiusKm float64) ([]string, error)
	// Update indexes providerID at point when ready, and removes it otherwise.
	Update(ctx context.Context, providerID string, point geo.Point, ready bool) error
}

// StoreLocator returns every provider with a ready emergency config. It
// needs no index maintenance and suits single-node and test deployments.
type StoreLocator struct {
	store storage.ProviderStore
}

func NewStoreLocator(store storage.ProviderStore) *StoreLocator {
	return &StoreLocator{store: store}
}

func (l *StoreLocator) Nearby(ctx context.Context, _ geo.Point, _ float64) ([]string, error) {
	configs, err := l.store.ListReadyEmergencyConfigs(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		ids = append(ids, cfg.ProviderID)
	}
	return ids, nil
}

func (l *StoreLocator) Update(context.Context, string, geo.Point, bool) error { return nil }

// GeoKey is the sorted set holding ready emergency providers.
const GeoKey = "servimap:emergency:providers"

// RedisGeoIndex keeps ready emergency providers in a Redis GEO set so
// matching only loads providers near the customer.
type RedisGeoIndex struct {
	client *redis.Client
	key    string
}

func NewRedisGeoIndex(client *redis.Client) *RedisGeoIndex {
	return &RedisGeoIndex{client: client, key: GeoKey}
}

func (r *RedisGeoIndex) Nearby(ctx context.Context, point geo.Point, radiusKm float64) ([]string, error) {
	locations, err := r.client.GeoRadius(ctx, r.key, point.Lng, point.Lat, &redis.GeoRadiusQuery{
		Radius: radiusKm,
		Unit:   "km",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	ids := make([]string, 0, len(locations))
	for _, loc := range locations {
		ids = append(ids, loc.Name)
	}
	return ids, nil
}

func (r *RedisGeoIndex) Update(ctx context.Context, providerID string, point geo.Point, ready bool) error {
	if !ready {
		return r.client.ZRem(ctx, r.key, providerID).Err()
	}
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      providerID,
		Longitude: point.Lng,
		Latitude:  point.Lat,
	}).Err()
}
