package lock

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(strings.NewReader(`
host_id: worker-7
default_lifetime: 1m30s
poll_interval: 2s
`))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.HostID != "worker-7" {
		t.Errorf("HostID = %q, want worker-7", config.HostID)
	}
	if config.DefaultLifetime != 90*time.Second {
		t.Errorf("DefaultLifetime = %s, want 1m30s", config.DefaultLifetime)
	}
	if config.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %s, want 2s", config.PollInterval)
	}
	if config.ReleaseTimeout != DefaultReleaseTimeout {
		t.Errorf("ReleaseTimeout = %s, want default %s", config.ReleaseTimeout, DefaultReleaseTimeout)
	}
	if config.IDGenerator == nil || config.Observer == nil {
		t.Errorf("defaults for generator and observer were dropped")
	}
}

func TestLoadConfigEmpty(t *testing.T) {
	config, err := LoadConfig(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if config.HostID == "" {
		t.Errorf("HostID is empty, want generated id")
	}
}

func TestLoadConfigNegativeLifetime(t *testing.T) {
	_, err := LoadConfig(strings.NewReader("default_lifetime: -1s"))
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want error")
	}
}

func TestWithConfigKeepsDefaults(t *testing.T) {
	config := defaultConfig()
	WithConfig(Config{DefaultLifetime: time.Second}).Apply(&config)

	if config.DefaultLifetime != time.Second {
		t.Errorf("DefaultLifetime = %s, want 1s", config.DefaultLifetime)
	}
	if config.HostID == "" || config.IDGenerator == nil || config.Observer == nil {
		t.Errorf("WithConfig() dropped defaults: %+v", config)
	}
}

func TestSequence(t *testing.T) {
	gen := Sequence("req-")
	if got := gen.NewID(); got != "req-1" {
		t.Fatalf("NewID() = %q, want req-1", got)
	}
	if got := gen.NewID(); got != "req-2" {
		t.Fatalf("NewID() = %q, want req-2", got)
	}
}

func TestGeneratorsUnique(t *testing.T) {
	for name, gen := range map[string]IDGenerator{"xid": XID(), "uuid": UUID()} {
		seen := make(map[string]struct{})
		for range 1000 {
			id := gen.NewID()
			if _, ok := seen[id]; ok {
				t.Fatalf("%s generated duplicate id %q", name, id)
			}
			seen[id] = struct{}{}
		}
	}
}
