package config

import (
	"github.com/IvanBrykalov/edgecache/admission"
	"github.com/IvanBrykalov/edgecache/engine"
	"github.com/IvanBrykalov/edgecache/model"
	"github.com/IvanBrykalov/edgecache/storage/shardmap"
	"github.com/IvanBrykalov/edgecache/workers"
)

// ModelRules builds the model.Rule set this config describes, ready for
// model.NewRuleSet.
func (c *Config) ModelRules() []*model.Rule {
	out := make([]*model.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		mr := &model.Rule{
			Path:                    r.Path,
			PathBytes:               []byte(r.Path),
			QueryWhitelist:          r.CacheKey.Query,
			HeaderWhitelist:         r.CacheKey.Headers,
			ResponseHeaderWhitelist: r.CacheValue.Headers,
		}
		if r.Refresh != nil {
			mr.Refresh = &model.RefreshRule{
				Enabled:     r.Refresh.Enabled,
				TTL:         int64(r.Refresh.TTL),
				Beta:        r.Refresh.Beta,
				Coefficient: r.Refresh.Coefficient,
			}
		}
		out = append(out, mr)
	}
	return out
}

// StorageMapMode translates storage.mode into shardmap.Mode.
func (c *Config) StorageMapMode() shardmap.Mode {
	if c.Storage.Mode == ModeListing {
		return shardmap.Listing
	}
	return shardmap.Sampling
}

// AdmissionConfig translates the admission.* block into admission.Config.
func (c *Config) AdmissionConfig() admission.Config {
	return admission.Config{
		Shards:              c.Admission.Shards,
		MinTableLenPerShard: c.Admission.MinTableLenPerShard,
		SampleMultiplier:    c.Admission.SampleMultiplier,
		DoorBitsPerCounter:  c.Admission.DoorBitsPerCounter,
	}
}

// EngineConfig builds the engine.Config this schema describes, including
// the derived memory limits.
func (c *Config) EngineConfig() engine.Config {
	d := c.DeriveLimits()
	onTTL := model.TTLRefresh
	if c.Lifetime.OnTTL == OnTTLRemove {
		onTTL = model.TTLRemove
	}
	return engine.Config{
		SoftMemoryLimit:      d.SoftMemoryLimit,
		HardMemoryLimit:      d.HardMemoryLimit,
		AdmissionMemoryLimit: d.AdmissionMemoryLimit,
		AdmissionEnabled:     c.Admission.Enabled,
		SampleShards:         2,
		SampleKeys:           8,
		EvictBackoff:         8192,
		Lifetime: model.LifetimePolicy{
			TTL:         int64(c.Lifetime.TTL),
			Beta:        c.Lifetime.Beta,
			Coefficient: c.Lifetime.Coefficient,
		},
		OnTTL: onTTL,
	}
}

// EvictorConfig builds the workers.EvictorConfig this schema describes.
func (c *Config) EvictorConfig() workers.EvictorConfig {
	return workers.EvictorConfig{
		Enabled:       c.Eviction.Enabled,
		Replicas:      c.Eviction.Replicas,
		CheckInterval: c.Eviction.CheckInterval,
		Backoff:       8192,
	}
}

// LifetimeConfig builds the workers.LifetimeConfig this schema describes.
func (c *Config) LifetimeConfig() workers.LifetimeConfig {
	onTTL := model.TTLRefresh
	if c.Lifetime.OnTTL == OnTTLRemove {
		onTTL = model.TTLRemove
	}
	return workers.LifetimeConfig{
		Enabled:    c.Lifetime.Enabled,
		OnTTL:      onTTL,
		Replicas:   c.Lifetime.Replicas,
		Rate:       c.Lifetime.Rate,
		GlobalRate: c.Lifetime.Rate,
	}
}
