// Package tierstore is the embeddable entry point: it wires a caching tier
// and an authoritative tier from declarative configuration and hands back a
// single store handle.
package tierstore

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tierstore/tierstore/internal/authority"
	"github.com/tierstore/tierstore/internal/buffer"
	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/internal/hot"
	"github.com/tierstore/tierstore/internal/metrics"
	"github.com/tierstore/tierstore/internal/segment"
	"github.com/tierstore/tierstore/internal/tiered"
	"github.com/tierstore/tierstore/pkg/errors"
	"github.com/tierstore/tierstore/pkg/logging"
	"github.com/tierstore/tierstore/pkg/retry"
	"github.com/tierstore/tierstore/pkg/types"
)

const segmentFileName = "segment.dat"

// Options supplies the pluggable pieces configuration cannot express.
type Options struct {
	// Serializer converts values to stored bytes. Required for offheap and
	// disk modes; ignored in heap mode.
	Serializer types.Serializer

	// Expiry overrides the policy derived from configuration.
	Expiry types.ExpiryPolicy

	// Advisor protects entries from automatic eviction.
	Advisor types.EvictionAdvisor

	// Logger overrides the logger derived from configuration.
	Logger *logging.Logger
}

// Store is a started tiered store plus its observability surface.
type Store struct {
	types.Store

	collector *metrics.Collector
	log       *logging.Logger
}

// Open validates the configuration, builds both tiers, and starts the
// store. A nil configuration uses the defaults; a nil options uses heap
// mode defaults. The returned store is ready for use and must be closed.
func Open(cfg *config.Configuration, opts *Options) (*Store, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if opts == nil {
		opts = &Options{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).
			WithComponent("tierstore").WithOperation("open")
	}
	pools, err := cfg.ResolvePools()
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).
			WithComponent("tierstore").WithOperation("open")
	}

	log := opts.Logger
	if log == nil {
		format := logging.FormatText
		if cfg.Logging.Format == "json" {
			format = logging.FormatJSON
		}
		log = logging.New(&logging.Config{
			Level:  logging.ParseLevel(cfg.Logging.Level),
			Output: os.Stderr,
			Format: format,
		})
	}

	expiry := opts.Expiry
	if expiry == nil {
		expiry = expiryFromConfig(cfg.Expiry)
	}
	advisor := opts.Advisor
	if advisor == nil {
		advisor = types.NoAdvice{}
	}

	auth, err := buildAuthority(cfg, opts.Serializer, expiry, advisor, log)
	if err != nil {
		return nil, err
	}

	caching := hot.New(cfg.Pools.CachingEntries, cfg.Fault.Timeout.Std(), log)
	auth.SetDropListener(caching.Invalidate)

	retryer := retry.New(retry.Config{
		MaxAttempts:  cfg.Fault.RetryAttempts,
		InitialDelay: cfg.Fault.RetryInitialDelay.Std(),
	})

	store := tiered.New(caching, auth.tier(), retryer, log)
	if err := store.Start(); err != nil {
		return nil, err
	}

	s := &Store{Store: store, log: log}
	if cfg.Metrics.Enabled {
		s.collector = metrics.NewCollector(cfg.Metrics.Namespace, store.Stats)
	}

	fields := map[string]interface{}{"authority_mode": authorityMode(cfg)}
	for _, pool := range pools {
		fields[pool.Role.String()+"_capacity"] = fmt.Sprintf("%d %s", pool.Size, pool.Unit)
	}
	log.Info("store opened", fields)
	return s, nil
}

// MetricsHandler returns the prometheus scrape handler, or nil when metrics
// are disabled.
func (s *Store) MetricsHandler() http.Handler {
	if s.collector == nil {
		return nil
	}
	return s.collector.Handler()
}

// builtAuthority pairs the tier contract with the drop listener hook both
// backings provide.
type builtAuthority interface {
	tier() types.AuthoritativeTier
	SetDropListener(fn func(key string))
}

type heapAuthority struct{ *authority.Heap }

func (h heapAuthority) tier() types.AuthoritativeTier { return h.Heap }

type segmentAuthority struct{ *authority.SegmentTier }

func (s segmentAuthority) tier() types.AuthoritativeTier { return s.SegmentTier }

func buildAuthority(cfg *config.Configuration, ser types.Serializer, expiry types.ExpiryPolicy, advisor types.EvictionAdvisor, log *logging.Logger) (builtAuthority, error) {
	mode := authorityMode(cfg)

	if mode == "heap" {
		return heapAuthority{authority.NewHeap(int64(cfg.Pools.Authority.Entries), expiry, advisor, log)}, nil
	}

	if ser == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("%s mode requires a serializer", mode)).
			WithComponent("tierstore").WithOperation("open")
	}

	size, err := config.ParseSize(cfg.Pools.Authority.Size)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, err.Error()).
			WithComponent("tierstore").WithOperation("open")
	}

	segCfg := segment.Config{Capacity: size}
	if mode == "disk" {
		if err := os.MkdirAll(cfg.Persistence.Directory, 0750); err != nil {
			return nil, errors.NewError(errors.ErrCodePersistenceFailure, "failed to create persistence directory").
				WithComponent("tierstore").WithOperation("open").WithCause(err)
		}
		segCfg.Path = filepath.Join(cfg.Persistence.Directory, segmentFileName)
		segCfg.SyncOnWrite = cfg.Persistence.SyncOnWrite
	}

	seg, err := segment.Open(segCfg, buffer.NewPool(), log)
	if err != nil {
		return nil, err
	}
	return segmentAuthority{authority.NewSegmentTier(seg, ser, expiry, advisor, log)}, nil
}

func authorityMode(cfg *config.Configuration) string {
	if cfg.Pools.Authority.Mode == "" {
		return "heap"
	}
	return cfg.Pools.Authority.Mode
}

func expiryFromConfig(cfg config.ExpiryConfig) types.ExpiryPolicy {
	switch cfg.Policy {
	case "ttl":
		return types.TTLExpiry{TTL: cfg.TTL.Std()}
	case "access":
		return types.AccessExpiry{TTI: cfg.TTL.Std()}
	default:
		return types.NoExpiry{}
	}
}
