package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPoolTuningFromEnv(t *testing.T) {
	tests := []struct {
		raw          string
		wantConns    int
		wantLifetime time.Duration
	}{
		{raw: "", wantConns: defaultMaxOpenConns, wantLifetime: defaultConnMaxLifetime},
		{raw: "4", wantConns: 4, wantLifetime: 4 * time.Second},
		{raw: "45s", wantConns: defaultMaxOpenConns, wantLifetime: 45 * time.Second},
		{raw: "0", wantConns: defaultMaxOpenConns, wantLifetime: defaultConnMaxLifetime},
		{raw: "bad", wantConns: defaultMaxOpenConns, wantLifetime: defaultConnMaxLifetime},
	}

	for _, tt := range tests {
		t.Run("raw="+tt.raw, func(t *testing.T) {
			t.Setenv(maxOpenConnsEnvKey, tt.raw)
			t.Setenv(connMaxLifetimeEnvKey, tt.raw)
			if got := intFromEnv(maxOpenConnsEnvKey, defaultMaxOpenConns); got != tt.wantConns {
				t.Fatalf("max open conns: expected %d, got %d", tt.wantConns, got)
			}
			if got := durationFromEnv(connMaxLifetimeEnvKey, defaultConnMaxLifetime); got != tt.wantLifetime {
				t.Fatalf("conn lifetime: expected %v, got %v", tt.wantLifetime, got)
			}
		})
	}
}

func TestOpenAppliesPoolTuning(t *testing.T) {
	t.Setenv(maxOpenConnsEnvKey, "2")
	s, err := Open(filepath.Join(t.TempDir(), "primary.db"), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if got := s.db.Stats().MaxOpenConnections; got != 2 {
		t.Fatalf("expected 2 max open connections, got %d", got)
	}
	if s.Capacity() != DefaultCapacityBytes {
		t.Fatalf("expected default capacity, got %d", s.Capacity())
	}
}
