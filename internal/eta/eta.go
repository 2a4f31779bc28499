package eta

import (
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-negotiation/internal/geo"
	"github.com/example/ride-negotiation/internal/models"
)

// Pending is shown while no estimate can be computed (missing coordinates).
const Pending = "Calculating..."

// Cache is a tiny in-memory cache for ETA lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns the cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// EstimateSeconds is the naive estimator: distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return d / speedMps
}

// Estimator produces human-readable ETA strings for the active-ride view,
// degrading to Pending when coordinates are missing.
type Estimator struct {
	SpeedMps float64
	Cache    *Cache // optional
}

// ToDestination estimates the leg from pickup to destination.
func (e *Estimator) ToDestination(pickup, destination models.Place) string {
	if pickup.Coords == nil || destination.Coords == nil {
		return Pending
	}
	secs := e.estimate(*pickup.Coords, *destination.Coords)
	mins := int(secs/60) + 1
	return fmt.Sprintf("%d mins to destination", mins)
}

func (e *Estimator) estimate(from, to models.Coord) float64 {
	if e.Cache != nil {
		if v, ok := e.Cache.Get(from, to); ok {
			return v
		}
	}
	v := EstimateSeconds(from, to, e.SpeedMps)
	if e.Cache != nil {
		e.Cache.Set(from, to, v)
	}
	return v
}
