package resource

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/keelframe/keel/internal/config"
	"github.com/keelframe/keel/internal/debug"
	keelerrors "github.com/keelframe/keel/internal/errors"
)

// URIScheme prefixes every identifier handed out by the store.
const URIScheme = "keel://resource/"

// tombstoneFactor scales a record's TTL into its tombstone retention.
// Tombstones are what let Get distinguish "expired" from "never existed";
// they hold no payload, so keeping them around longer is cheap.
const tombstoneFactor = 10

// maxTombstoneRetention caps tombstone lifetime regardless of TTL.
const maxTombstoneRetention = 24 * time.Hour

// record is one stored payload plus its TTL bookkeeping. Expiry fields
// are unix nanos for atomic comparison.
type record struct {
	payload   any
	createdAt int64
	expiresAt int64

	// tombstone records keep identity after expiry with the payload
	// released. tombstoneUntil bounds their own lifetime.
	tombstone      bool
	tombstoneUntil int64
}

// Store is TTL-keyed storage for full, untruncated result payloads,
// addressable by an opaque URI. Entries are ephemeral by design: needed
// for convenience, never for correctness after expiry.
type Store struct {
	records sync.Map // map[string]*record

	defaultTTL    time.Duration
	sweepInterval time.Duration
	maxEntries    int

	// Atomic counters
	count       int64 // live (non-tombstone) records
	puts        int64
	hits        int64
	expiredGets int64
	unknownGets int64
	evictions   int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewStore creates a store. Call Start to run the periodic sweep and
// Stop on shutdown.
func NewStore(cfg config.Resource) *Store {
	return &Store{
		defaultTTL:    cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		maxEntries:    cfg.MaxEntries,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background sweep. Expiry is enforced lazily at
// access time either way; the sweep only reclaims memory.
func (s *Store) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweep. Idempotent.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Put stores a payload under a fresh opaque URI. A non-positive ttl uses
// the configured default.
func (s *Store) Put(payload any, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := time.Now().UnixNano()
	uri := URIScheme + uuid.NewString()

	s.records.Store(uri, &record{
		payload:   payload,
		createdAt: now,
		expiresAt: now + ttl.Nanoseconds(),
	})
	atomic.AddInt64(&s.puts, 1)

	if count := atomic.AddInt64(&s.count, 1); count > int64(s.maxEntries) {
		s.evictOldest()
	}

	debug.LogResource("stored %s (ttl %v)\n", uri, ttl)
	return uri
}

// Get returns the payload for a URI. Expired records are converted to
// tombstones at access time and reported as expired, which is distinct
// from a URI the store has never seen: expired tells the caller to re-run
// the original operation, unknown tells it the URI itself is wrong.
func (s *Store) Get(uri string) (any, error) {
	val, ok := s.records.Load(uri)
	if !ok {
		atomic.AddInt64(&s.unknownGets, 1)
		return nil, keelerrors.NewResourceUnknown(uri)
	}

	rec := val.(*record)
	now := time.Now().UnixNano()

	if rec.tombstone {
		atomic.AddInt64(&s.expiredGets, 1)
		return nil, keelerrors.NewResourceExpired(uri, time.Unix(0, rec.expiresAt))
	}

	if now > atomic.LoadInt64(&rec.expiresAt) {
		s.entomb(uri, rec)
		atomic.AddInt64(&s.expiredGets, 1)
		return nil, keelerrors.NewResourceExpired(uri, time.Unix(0, rec.expiresAt))
	}

	atomic.AddInt64(&s.hits, 1)
	return rec.payload, nil
}

// Delete removes a record early. Returns false if the URI was unknown or
// already a tombstone.
func (s *Store) Delete(uri string) bool {
	val, ok := s.records.Load(uri)
	if !ok {
		return false
	}
	rec := val.(*record)
	if rec.tombstone {
		return false
	}
	s.records.Delete(uri)
	atomic.AddInt64(&s.count, -1)
	return true
}

// entomb swaps a live record for a payload-free tombstone.
func (s *Store) entomb(uri string, rec *record) {
	ttl := time.Duration(rec.expiresAt - rec.createdAt)
	retention := ttl * tombstoneFactor
	if retention > maxTombstoneRetention {
		retention = maxTombstoneRetention
	}
	s.records.Store(uri, &record{
		createdAt:      rec.createdAt,
		expiresAt:      rec.expiresAt,
		tombstone:      true,
		tombstoneUntil: rec.expiresAt + retention.Nanoseconds(),
	})
	atomic.AddInt64(&s.count, -1)
	debug.LogResource("expired %s\n", uri)
}

// Sweep converts expired records to tombstones and drops aged tombstones.
// Returns the number of records touched.
func (s *Store) Sweep() int {
	now := time.Now().UnixNano()
	touched := 0

	s.records.Range(func(key, value any) bool {
		rec := value.(*record)
		if rec.tombstone {
			if now > rec.tombstoneUntil {
				s.records.Delete(key)
				touched++
			}
			return true
		}
		if now > atomic.LoadInt64(&rec.expiresAt) {
			s.entomb(key.(string), rec)
			touched++
		}
		return true
	})

	return touched
}

// evictOldest removes the live record with the earliest creation time.
// Called when Put overflows the entry cap.
func (s *Store) evictOldest() {
	var oldestKey any
	oldestTime := int64(1<<63 - 1)

	s.records.Range(func(key, value any) bool {
		rec := value.(*record)
		if rec.tombstone {
			return true
		}
		if rec.createdAt < oldestTime {
			oldestTime = rec.createdAt
			oldestKey = key
		}
		return true
	})

	if oldestKey != nil {
		if val, ok := s.records.Load(oldestKey); ok && !val.(*record).tombstone {
			s.records.Delete(oldestKey)
			atomic.AddInt64(&s.count, -1)
			atomic.AddInt64(&s.evictions, 1)
			debug.LogResource("evicted %v (entry cap %d)\n", oldestKey, s.maxEntries)
		}
	}
}

// Stats holds store statistics
type Stats struct {
	LiveEntries int64
	Puts        int64
	Hits        int64
	ExpiredGets int64
	UnknownGets int64
	Evictions   int64
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	return Stats{
		LiveEntries: atomic.LoadInt64(&s.count),
		Puts:        atomic.LoadInt64(&s.puts),
		Hits:        atomic.LoadInt64(&s.hits),
		ExpiredGets: atomic.LoadInt64(&s.expiredGets),
		UnknownGets: atomic.LoadInt64(&s.unknownGets),
		Evictions:   atomic.LoadInt64(&s.evictions),
	}
}
