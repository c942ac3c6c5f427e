// Package config defines the configuration schema this cache core
// recognizes (storage, eviction, admission, lifetime, rules) and the
// derived limits loaded from it, plus a YAML loader.
package config

import "time"

// StorageMode selects the sharded map's eviction strategy.
type StorageMode string

const (
	ModeListing  StorageMode = "listing"
	ModeSampling StorageMode = "sampling"
)

// Storage configures total capacity and eviction strategy: mode is one of
// listing or sampling, and size is the total byte budget.
type Storage struct {
	Mode StorageMode `yaml:"mode"`
	Size int64       `yaml:"size"`
}

// Eviction configures the Evictor worker group and the soft/hard memory
// thresholds.
type Eviction struct {
	Enabled       bool          `yaml:"enabled"`
	SoftLimit     float64       `yaml:"soft_limit"`
	HardLimit     float64       `yaml:"hard_limit"`
	Replicas      int           `yaml:"replicas"`
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Admission configures the TinyLFU admitter.
type Admission struct {
	Enabled             bool   `yaml:"enabled"`
	Capacity            int    `yaml:"capacity"`
	Shards              int    `yaml:"shards"`
	MinTableLenPerShard uint64 `yaml:"min_table_len_per_shard"`
	SampleMultiplier    uint64 `yaml:"sample_multiplier"`
	DoorBitsPerCounter  uint64 `yaml:"door_bits_per_counter"`
}

// OnTTL selects what the Lifetime Manager does with an expired entry.
type OnTTL string

const (
	OnTTLRefresh OnTTL = "refresh"
	OnTTLRemove  OnTTL = "remove"
)

// Lifetime configures the Lifetime Manager worker group and the global
// refresh-probability defaults.
type Lifetime struct {
	Enabled     bool          `yaml:"enabled"`
	OnTTL       OnTTL         `yaml:"on_ttl"`
	TTL         time.Duration `yaml:"ttl"`
	Replicas    int           `yaml:"replicas"`
	Rate        float64       `yaml:"rate"`
	Beta        float64       `yaml:"beta"`
	Coefficient float64       `yaml:"coefficient"`
}

// RefreshOverride is a per-rule override of the global Lifetime policy.
type RefreshOverride struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	Beta        float64       `yaml:"beta"`
	Coefficient float64       `yaml:"coefficient"`
}

// CacheKey names the query params and headers that participate in a
// rule's cache key.
type CacheKey struct {
	Query   []string `yaml:"query"`
	Headers []string `yaml:"headers"`
}

// CacheValue names the response headers preserved on a cache hit.
type CacheValue struct {
	Headers []string `yaml:"headers"`
}

// Rule is one path's cache-key/cache-value/refresh-override configuration.
type Rule struct {
	Path       string           `yaml:"path"`
	CacheKey   CacheKey         `yaml:"cache_key"`
	CacheValue CacheValue       `yaml:"cache_value"`
	Refresh    *RefreshOverride `yaml:"refresh"`
}

// Config is the full schema the core recognizes.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Eviction  Eviction  `yaml:"eviction"`
	Admission Admission `yaml:"admission"`
	Lifetime  Lifetime  `yaml:"lifetime"`
	Rules     []Rule    `yaml:"rules"`
}

// admissionMargin is the fixed 100 MiB margin subtracted from the soft
// limit to derive the admission memory limit.
const admissionMargin = 100 << 20

// Derived holds the byte thresholds computed from Storage.Size and
// Eviction's soft/hard fractions.
type Derived struct {
	SoftMemoryLimit      int64
	HardMemoryLimit      int64
	AdmissionMemoryLimit int64
}

// DeriveLimits computes soft_memory_limit, hard_memory_limit, and
// admission_memory_limit from storage.size and eviction's fractional
// thresholds.
func (c *Config) DeriveLimits() Derived {
	soft := int64(float64(c.Storage.Size) * c.Eviction.SoftLimit)
	hard := int64(float64(c.Storage.Size) * c.Eviction.HardLimit)
	admission := soft - admissionMargin
	return Derived{SoftMemoryLimit: soft, HardMemoryLimit: hard, AdmissionMemoryLimit: admission}
}

// Default returns a sensible out-of-the-box Config: 1024-shard map in
// Sampling mode, a modest admission table, a 100ms eviction check
// interval, and refresh-mode TTL handling.
func Default() Config {
	return Config{
		Storage: Storage{Mode: ModeSampling, Size: 1 << 30},
		Eviction: Eviction{
			Enabled:       true,
			SoftLimit:     0.8,
			HardLimit:     0.95,
			Replicas:      2,
			CheckInterval: 100 * time.Millisecond,
		},
		Admission: Admission{
			Enabled:             true,
			Shards:              16,
			MinTableLenPerShard: 4096,
			SampleMultiplier:    10,
			DoorBitsPerCounter:  8,
		},
		Lifetime: Lifetime{
			Enabled:     true,
			OnTTL:       OnTTLRefresh,
			TTL:         5 * time.Minute,
			Replicas:    2,
			Rate:        50,
			Beta:        8,
			Coefficient: 0.5,
		},
	}
}
