package handler

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/attribution"
	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/storage"
)

// RegionOpener returns the durable region of a visitor and the region of one
// browsing session.
type RegionOpener func(visitorID, browsingSessionID string) (durable, session attribution.Region, err error)

// RedisRegionOpener opens regions on client. Session keys expire after ttl.
func RedisRegionOpener(client *redis.Client, ttl time.Duration) RegionOpener {
	return func(visitorID, browsingSessionID string) (attribution.Region, attribution.Region, error) {
		durable, err := storage.NewVisitorRegion(client, visitorID)
		if err != nil {
			return nil, nil, err
		}
		session, err := storage.NewSessionRegion(client, browsingSessionID, ttl)
		if err != nil {
			return nil, nil, err
		}
		return durable, session, nil
	}
}

// MemoryRegionOpener keeps regions in process memory. State is lost on
// restart and not shared between replicas.
func MemoryRegionOpener() RegionOpener {
	visitors := storage.NewMemoryRegions()
	sessions := storage.NewMemoryRegions()

	return func(visitorID, browsingSessionID string) (attribution.Region, attribution.Region, error) {
		if visitorID == "" || browsingSessionID == "" {
			return nil, nil, storage.ErrEmptyScope
		}
		return visitors.For(visitorID), sessions.For(browsingSessionID), nil
	}
}
