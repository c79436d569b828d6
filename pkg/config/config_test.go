package config

import (
	"testing"

	"github.com/prxssh/ripple/pkg/piece"
)

func TestInitLoadDefaults(t *testing.T) {
	Init()

	cfg := Load()
	if cfg.DefaultStrategy != piece.Sequential {
		t.Fatalf("DefaultStrategy = %v; want %v", cfg.DefaultStrategy, piece.Sequential)
	}
	if cfg.MaxOpenFiles != 64 {
		t.Fatalf("MaxOpenFiles = %d; want 64", cfg.MaxOpenFiles)
	}
}

func TestUpdateAppliesMutationAtomically(t *testing.T) {
	Init()

	Update(func(c *Config) {
		c.MaxOpenFiles = 128
	})

	if got := Load().MaxOpenFiles; got != 128 {
		t.Fatalf("after Update, MaxOpenFiles = %d; want 128", got)
	}
}

func TestSwapReplacesWholesale(t *testing.T) {
	Init()

	Swap(Config{DefaultStrategy: piece.RarestFirst, MaxOpenFiles: 4})

	got := Load()
	if got.DefaultStrategy != piece.RarestFirst || got.MaxOpenFiles != 4 {
		t.Fatalf("Swap did not replace config: %+v", got)
	}
}

