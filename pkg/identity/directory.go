package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/store"
)

// Directory resolves display names for identities from stored profiles,
// optionally fronted by a Valkey cache. Lookups are best-effort: callers
// are expected to fall back to a masked identifier on error.
type Directory struct {
	cache valkey.Client
	ttl   time.Duration
}

// NewDirectory creates a Directory. valkeyAddr may be empty, in which
// case the cache is disabled and every lookup hits the profile store.
func NewDirectory(valkeyAddr string, ttl time.Duration) (*Directory, error) {
	d := &Directory{ttl: ttl}
	if d.ttl <= 0 {
		d.ttl = 10 * time.Minute
	}
	if valkeyAddr != "" {
		c, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{valkeyAddr}})
		if err != nil {
			return nil, fmt.Errorf("valkey connect: %w", err)
		}
		d.cache = c
		logger.Info("directory_cache_enabled", "addr", valkeyAddr)
	}
	return d, nil
}

// Close releases the cache connection if one is held.
func (d *Directory) Close() {
	if d.cache != nil {
		d.cache.Close()
	}
}

func cacheKey(id string) string { return "bb:name:" + id }

// DisplayName returns the best available human-readable name for an
// identity, or an error when none is stored.
func (d *Directory) DisplayName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty identity")
	}
	if d.cache != nil {
		if v, err := d.cache.Do(ctx, d.cache.B().Get().Key(cacheKey(id)).Build()).ToString(); err == nil && v != "" {
			return v, nil
		}
	}
	p, err := store.GetProfile(id)
	if err != nil {
		return "", fmt.Errorf("profile lookup: %w", err)
	}
	name := p.Name()
	if name == "" {
		return "", fmt.Errorf("profile %s has no display name", id)
	}
	if d.cache != nil {
		if err := d.cache.Do(ctx, d.cache.B().Set().Key(cacheKey(id)).Value(name).Ex(d.ttl).Build()).Error(); err != nil {
			logger.Debug("directory_cache_set_failed", "id", id, "error", err)
		}
	}
	return name, nil
}
