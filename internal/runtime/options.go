package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
	"github.com/tjfontaine/envelope-gateway/internal/storage/memory"
	"github.com/tjfontaine/envelope-gateway/internal/storage/sqldb"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithConfigFile loads configuration from path and watches it for changes.
// Only gateway.log_type is applied on reload.
func WithConfigFile(path string) Option {
	return func(g *Gateway) error {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		g.cfg = cfg
		g.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(g *Gateway) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		g.cfg = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithSQLite persists access records in a SQLite database at path.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqldb.NewSQLite(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.store = store
		return nil
	}
}

// WithMemoryStore keeps the most recent access records in memory.
func WithMemoryStore() Option {
	return func(g *Gateway) error {
		g.store = memory.New()
		return nil
	}
}

// WithAccessRecordStore sets a custom access-record store. The gateway
// closes it on shutdown.
func WithAccessRecordStore(store storage.AccessRecordStore) Option {
	return func(g *Gateway) error {
		g.store = store
		return nil
	}
}

// WithUpstreamTransport sets the round tripper used to reach upstreams.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) error {
		g.transport = rt
		return nil
	}
}

// WithListenAddr overrides the listen address derived from gateway.port.
// Use "127.0.0.1:0" to pick a free port.
func WithListenAddr(addr string) Option {
	return func(g *Gateway) error {
		g.addr = addr
		return nil
	}
}
