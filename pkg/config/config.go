// Package config holds process-wide, hot-swappable configuration for the
// picker and file cache. It is intentionally small: the picker and FileCache
// themselves take their tunables as explicit constructor parameters (see
// pkg/piece and pkg/filecache); this package is how the surrounding
// application reads and updates the values it passes down, in one place,
// without threading a config object through every call site.
package config

import (
	"log/slog"

	"github.com/prxssh/ripple/pkg/piece"
)

// Config defines resource limits and defaults shared by the picker and file
// cache.
type Config struct {
	// DefaultStrategy selects which Picker constructor callers use for new
	// Pickers (pkg/swarm's newPeerPicker reads it).
	DefaultStrategy piece.Strategy

	// MaxRequestsPerBlock caps how many peers may simultaneously hold an
	// outstanding request for the same sub-block during endgame.
	MaxRequestsPerBlock int

	// MaxOpenFiles bounds the number of concurrently open file handles the
	// disk writer's FileCache may hold.
	MaxOpenFiles int

	// EndgameLogLevel is a level for the picker's endgame-entry and Forget
	// log lines. Nothing in this module reads it: the picker logs endgame
	// entry at Info and Forget at Debug regardless of this value.
	EndgameLogLevel slog.Level
}

// defaultConfig returns the baseline configuration used until the
// application calls Update or Swap.
func defaultConfig() *Config {
	return &Config{
		DefaultStrategy:     piece.Sequential,
		MaxRequestsPerBlock: 2,
		MaxOpenFiles:        64,
		EndgameLogLevel:     slog.LevelInfo,
	}
}
