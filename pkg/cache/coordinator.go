// Package cache implements the keyed caches that sit between the stores and
// their readers: per-faculty snapshots, faculty list views, and configuration
// snapshots.
//
// Lookups are lock-free and eventually consistent. Invalidations serialize
// through a single mutex so a bulk invalidation is observed atomically.
// Callers invalidate only after a committing transaction has returned,
// never from inside one.
package cache

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/consultease/consultease/pkg/models"
)

const (
	// QueryTTL bounds staleness of per-row and list caches.
	QueryTTL = 30 * time.Second
	// ConfigTTL bounds staleness of configuration snapshots.
	ConfigTTL = 5 * time.Minute
	// cleanupInterval is how often expired entries are swept out.
	cleanupInterval = 5 * time.Minute

	facultyKeyPrefix     = "faculty:"
	facultyListKeyPrefix = "faculty_list:"
)

// FacultyKey builds the cache key for one faculty snapshot.
func FacultyKey(id int64) string {
	return facultyKeyPrefix + strconv.FormatInt(id, 10)
}

// FacultyListKey builds the cache key for one list view. The fingerprint
// encodes the filter so distinct queries get distinct entries.
func FacultyListKey(fingerprint string) string {
	return facultyListKeyPrefix + fingerprint
}

// Stats counts cache traffic since startup.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Invalidations int64 `json:"invalidations"`
}

// Coordinator owns the query and configuration caches.
type Coordinator struct {
	queries *gocache.Cache
	config  *gocache.Cache

	// invalidateMu serializes invalidations; see the package doc.
	invalidateMu sync.Mutex

	hits          atomic.Int64
	misses        atomic.Int64
	invalidations atomic.Int64
}

// New creates a coordinator with the standard TTLs.
func New() *Coordinator {
	return NewWithTTL(QueryTTL, ConfigTTL)
}

// NewWithTTL creates a coordinator with explicit TTLs. Tests shrink them.
func NewWithTTL(queryTTL, configTTL time.Duration) *Coordinator {
	return &Coordinator{
		queries: gocache.New(queryTTL, cleanupInterval),
		config:  gocache.New(configTTL, cleanupInterval),
	}
}

// GetFaculty returns the cached snapshot for one faculty member.
func (c *Coordinator) GetFaculty(id int64) (models.Faculty, bool) {
	value, found := c.queries.Get(FacultyKey(id))
	if !found {
		c.misses.Add(1)
		return models.Faculty{}, false
	}
	snapshot, ok := value.(models.Faculty)
	if !ok {
		c.misses.Add(1)
		return models.Faculty{}, false
	}
	c.hits.Add(1)
	return snapshot, true
}

// SetFaculty stores a faculty snapshot under the standard TTL.
func (c *Coordinator) SetFaculty(f models.Faculty) {
	c.queries.SetDefault(FacultyKey(f.ID), f)
}

// GetFacultyList returns a cached list view. The returned slice is a copy;
// callers may not observe later cache writes through it.
func (c *Coordinator) GetFacultyList(key string) ([]models.Faculty, bool) {
	value, found := c.queries.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	list, ok := value.([]models.Faculty)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	out := make([]models.Faculty, len(list))
	copy(out, list)
	return out, true
}

// SetFacultyList stores a list view under the standard TTL.
func (c *Coordinator) SetFacultyList(key string, list []models.Faculty) {
	stored := make([]models.Faculty, len(list))
	copy(stored, list)
	c.queries.SetDefault(key, stored)
}

// InvalidateFaculty drops the snapshot for one faculty member and every
// derived list view.
func (c *Coordinator) InvalidateFaculty(id int64) {
	c.invalidateMu.Lock()
	defer c.invalidateMu.Unlock()

	c.queries.Delete(FacultyKey(id))
	c.dropListViews()
	c.invalidations.Add(1)
}

// InvalidateFacultyLists drops every list view but keeps row snapshots.
func (c *Coordinator) InvalidateFacultyLists() {
	c.invalidateMu.Lock()
	defer c.invalidateMu.Unlock()

	c.dropListViews()
	c.invalidations.Add(1)
}

// InvalidateAll empties both caches.
func (c *Coordinator) InvalidateAll() {
	c.invalidateMu.Lock()
	defer c.invalidateMu.Unlock()

	c.queries.Flush()
	c.config.Flush()
	c.invalidations.Add(1)
}

// dropListViews deletes all list keys. Callers hold invalidateMu.
func (c *Coordinator) dropListViews() {
	for key := range c.queries.Items() {
		if strings.HasPrefix(key, facultyListKeyPrefix) {
			c.queries.Delete(key)
		}
	}
}

// GetConfig returns a cached configuration snapshot.
func (c *Coordinator) GetConfig(key string) (any, bool) {
	value, found := c.config.Get(key)
	if !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

// SetConfig stores a configuration snapshot under the config TTL.
func (c *Coordinator) SetConfig(key string, value any) {
	c.config.SetDefault(key, value)
}

// Stats returns traffic counters since startup.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}
