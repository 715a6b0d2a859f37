// Package config handles environment- and YAML-based configuration
// loading for the client replication engine's tuneables (§6 "Tuneables").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuneables holds every value the spec calls out as "should be
// configurable": the invalidation pull period and the RPC deadline, plus
// the supporting knobs this implementation adds (mesh cache size, the
// schedule for the background topology-sync cron job).
type Tuneables struct {
	// InvalidationPeriod is how often each proxy's background task polls
	// the server for a new invalidation batch. Spec default: ~10ms.
	InvalidationPeriod Duration `json:"invalidation_period" yaml:"invalidation_period"`

	// RPCDeadline bounds every individual RPC call. Spec default: ~1s.
	RPCDeadline Duration `json:"rpc_deadline" yaml:"rpc_deadline"`

	// ExtendByOneGrace is how long extend-by-one waits for an invalidation
	// to arrive before declaring InconsistentState. Spec default: ~10ms.
	ExtendByOneGrace Duration `json:"extend_by_one_grace" yaml:"extend_by_one_grace"`

	// MeshCacheMaxEntries bounds the client-side opaque mesh blob cache.
	MeshCacheMaxEntries int `json:"mesh_cache_max_entries" yaml:"mesh_cache_max_entries"`

	// TopologySyncSchedule is a robfig/cron schedule expression
	// controlling how often WorldsProxy refreshes and prunes its
	// materialized worlds against the server's topology in the
	// background. Empty disables the background sync entirely.
	TopologySyncSchedule string `json:"topology_sync_schedule" yaml:"topology_sync_schedule"`
}

// Default returns the tuneables at the values named throughout the spec.
func Default() Tuneables {
	return Tuneables{
		InvalidationPeriod:   Duration(10 * time.Millisecond),
		RPCDeadline:          Duration(1 * time.Second),
		ExtendByOneGrace:     Duration(10 * time.Millisecond),
		MeshCacheMaxEntries:  1024,
		TopologySyncSchedule: "@every 30s",
	}
}

// Load builds Tuneables from UNDERWORLDS_* environment variables layered
// on top of Default(), then applies a YAML file overlay if yamlPath is
// non-empty, following the teacher's env-loader-returns-validated-struct-
// or-aggregated-error pattern.
func Load(yamlPath string) (Tuneables, error) {
	cfg := Default()
	var errs []string

	if v, ok := os.LookupEnv("UNDERWORLDS_INVALIDATION_PERIOD_MS"); ok {
		if ms, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("UNDERWORLDS_INVALIDATION_PERIOD_MS: %v", err))
		} else {
			cfg.InvalidationPeriod = Duration(time.Duration(ms) * time.Millisecond)
		}
	}

	if v, ok := os.LookupEnv("UNDERWORLDS_RPC_DEADLINE_MS"); ok {
		if ms, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("UNDERWORLDS_RPC_DEADLINE_MS: %v", err))
		} else {
			cfg.RPCDeadline = Duration(time.Duration(ms) * time.Millisecond)
		}
	}

	if v, ok := os.LookupEnv("UNDERWORLDS_EXTEND_BY_ONE_GRACE_MS"); ok {
		if ms, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("UNDERWORLDS_EXTEND_BY_ONE_GRACE_MS: %v", err))
		} else {
			cfg.ExtendByOneGrace = Duration(time.Duration(ms) * time.Millisecond)
		}
	}

	if v, ok := os.LookupEnv("UNDERWORLDS_MESH_CACHE_MAX_ENTRIES"); ok {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Sprintf("UNDERWORLDS_MESH_CACHE_MAX_ENTRIES: %v", err))
		} else {
			cfg.MeshCacheMaxEntries = n
		}
	}

	if v, ok := os.LookupEnv("UNDERWORLDS_TOPOLOGY_SYNC_SCHEDULE"); ok {
		cfg.TopologySyncSchedule = strings.TrimSpace(v)
	}

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil {
			errs = append(errs, fmt.Sprintf("reading %s: %v", yamlPath, err))
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			errs = append(errs, fmt.Sprintf("parsing %s: %v", yamlPath, err))
		}
	}

	if err := cfg.validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c Tuneables) validate() error {
	if c.InvalidationPeriod.Std() <= 0 {
		return fmt.Errorf("invalidation_period must be positive")
	}
	if c.RPCDeadline.Std() <= 0 {
		return fmt.Errorf("rpc_deadline must be positive")
	}
	if c.ExtendByOneGrace.Std() <= 0 {
		return fmt.Errorf("extend_by_one_grace must be positive")
	}
	if c.MeshCacheMaxEntries <= 0 {
		return fmt.Errorf("mesh_cache_max_entries must be positive")
	}
	return nil
}
