package config

import (
	"os"
	"time"
)

// Default values for workspace lifecycle management
const (
	DefaultIdleEviction = 30 * time.Minute // Close handles unused this long
	// Rationale: project models are expensive to build but cheap to
	// rebuild on demand. 30 minutes covers a normal editing session
	// pause without pinning memory for abandoned projects.

	DefaultSweepInterval = 1 * time.Minute // Idle-eviction sweep cadence
	// Rationale: eviction precision of one minute is more than enough
	// for a 30 minute idle window and keeps the sweeper negligible.

	DefaultCloseGrace = 2 * time.Second // Wait for in-flight operations on Close
	// Rationale: most engine queries complete well under a second.
	// Two seconds lets normal operations drain; anything slower is
	// force-released and fails with a handle-closed error instead of
	// holding teardown hostage.
)

// Default values for token budget enforcement
const (
	DefaultMaxTokens = 10000 // Token ceiling for a shaped response
	// Rationale: large enough for useful result sets (50+ detailed
	// items), small enough that one response never dominates the
	// consumer's context window. The hosting consumer controls the
	// real window, so this is a config default, not a constant.

	DefaultMinUsefulTokens = 500 // Floor below which reduction stops early
	// Rationale: a response squeezed under this size carries too
	// little signal to act on; the reducer flags hard truncation and
	// points at the stored full result instead.

	DefaultSampleSize = 5 // Items sampled for batch estimation
	// Rationale: result items within one operation are usually
	// uniform, so a small prefix sample extrapolates well and keeps
	// estimation O(1) relative to batch size.

	DefaultEnvelopeTokens = 200 // Fixed response envelope overhead
	// Rationale: covers the JSON wrapper, counts, flags, and the
	// continuation hint that surround the item array.

	DefaultFallbackItemTokens = 120 // Per-item estimate when a cost function fails
	// Rationale: deliberately conservative (above the typical item)
	// so a broken cost function over-reduces rather than overflowing
	// the consumer's context.

	DefaultIrregularity = 5.0 // Max sampled cost / average triggering exact summation
	// Rationale: a single outlier 5x above the average means the
	// batch is not uniform enough to extrapolate; irregular batches
	// are typically small, so exact summation is affordable.
)

// DefaultReductionSteps is the descending candidate-count sequence tried
// during progressive reduction.
// Rationale: coarse steps keep the search cheap (at most 7 exact
// costings) while the tail steps guarantee something useful survives
// even tight budgets. Empirically chosen; override per deployment.
var DefaultReductionSteps = []int{100, 75, 50, 30, 20, 10, 5}

// Default values for the resource store
const (
	DefaultResourceTTL = 30 * time.Minute // Lifetime of stored full results
	// Rationale: overflow payloads exist for convenience, not
	// correctness. Tens of minutes covers the follow-up window of an
	// interactive session without growing into a durable store.

	DefaultResourceSweep = 5 * time.Minute // Expired-record sweep cadence
	// Rationale: expiry is enforced lazily at access time; the sweep
	// only reclaims memory, so a coarse interval is fine.

	DefaultMaxResources = 256 // Cap on live resource records
	// Rationale: bounds worst-case memory when a burst of reduced
	// responses lands inside one TTL window. Oldest records are
	// evicted first.
)

// Default values for file watching
const (
	DefaultWatchDebounce = 200 * time.Millisecond
	// Rationale: editors and code generators write files in bursts;
	// debouncing collapses a burst into one staleness mark per path.
)

type Config struct {
	Version   int
	Project   Project
	Workspace Workspace
	Budget    Budget
	Resource  Resource
	Watch     Watch
}

type Project struct {
	Root string
	Name string
}

// Workspace configures project handle lifecycle management.
type Workspace struct {
	IdleEviction    time.Duration // Handles unused longer than this are closed
	SweepInterval   time.Duration // Cadence of the idle-eviction sweep
	CloseGrace      time.Duration // Wait for in-flight operations before force release
	MaxWorkers      int           // Bound on concurrently running operations (0 = NumCPU)
	AcquireTimeout  time.Duration // Upper bound on engine LoadProject (0 = caller context only)
	StaleRetryLimit int           // Automatic invalidate-and-retry attempts on stale handles
}

// Budget configures token estimation and progressive reduction.
type Budget struct {
	MaxTokens          int     // Default response token ceiling
	MinUsefulTokens    int     // Floor for useful responses
	SampleSize         int     // Items sampled for batch estimation
	EnvelopeTokens     int     // Fixed response envelope overhead
	FallbackItemTokens int     // Per-item estimate when a cost function fails
	Irregularity       float64 // Sampled max/avg ratio forcing exact summation
	CharsPerToken      float64 // Rough chars-per-token for text estimation
	JSONOverhead       float64 // Multiplier for JSON structure overhead
	Steps              []int   // Descending candidate counts for reduction
}

// Resource configures the ephemeral full-result store.
type Resource struct {
	TTL           time.Duration // Lifetime of a stored record
	SweepInterval time.Duration // Expired-record reclamation cadence
	MaxEntries    int           // Cap on live records
}

// Watch configures out-of-band edit detection.
type Watch struct {
	Enabled  bool
	Debounce time.Duration
	Include  []string // doublestar globs; empty means everything
	Exclude  []string
}

// Default returns the built-in configuration for a project root.
func Default(root string) *Config {
	if root == "" {
		root, _ = os.Getwd()
	}
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Workspace: Workspace{
			IdleEviction:    DefaultIdleEviction,
			SweepInterval:   DefaultSweepInterval,
			CloseGrace:      DefaultCloseGrace,
			MaxWorkers:      0,
			StaleRetryLimit: 1,
		},
		Budget: Budget{
			MaxTokens:          DefaultMaxTokens,
			MinUsefulTokens:    DefaultMinUsefulTokens,
			SampleSize:         DefaultSampleSize,
			EnvelopeTokens:     DefaultEnvelopeTokens,
			FallbackItemTokens: DefaultFallbackItemTokens,
			Irregularity:       DefaultIrregularity,
			CharsPerToken:      4.0,
			JSONOverhead:       1.2,
			Steps:              append([]int(nil), DefaultReductionSteps...),
		},
		Resource: Resource{
			TTL:           DefaultResourceTTL,
			SweepInterval: DefaultResourceSweep,
			MaxEntries:    DefaultMaxResources,
		},
		Watch: Watch{
			Enabled:  false,
			Debounce: DefaultWatchDebounce,
			Exclude:  []string{"**/.git/**", "**/node_modules/**", "**/bin/**", "**/obj/**"},
		},
	}
}

// Load reads configuration for a project root, merging `.keel.kdl` over
// the defaults when the file exists.
func Load(root string) (*Config, error) {
	cfg, err := LoadKDL(root)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = Default(root)
	}
	if err := NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
