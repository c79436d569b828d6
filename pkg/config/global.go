package config

import "sync/atomic"

var cfg atomic.Value

func Init() {
	cfg.Store(defaultConfig())
}

// Load returns the current config (treat as read-only), initializing it to
// defaults on first use so callers don't need to sequence an explicit Init
// before the first Load.
func Load() *Config {
	if v := cfg.Load(); v != nil {
		return v.(*Config)
	}
	Init()
	return cfg.Load().(*Config)
}

// Update applies a mutation on a copy and swaps it atomically.
func Update(mut func(*Config)) *Config {
	curr := Load()
	next := *curr
	mut(&next)
	cfg.Store(&next)
	return &next
}

// Swap replaces the global config atomically with the provided value.
func Swap(next Config) *Config {
	cfg.Store(&next)
	return &next
}
