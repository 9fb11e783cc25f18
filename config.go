package multiproc

import (
	"os"
	"sync"

	"github.com/go-kit/log"

	"github.com/metrics-mmap/coremmap/registry"
)

const (
	// EnvDir is the environment variable vinted/prometheus_client_mmap and
	// prometheus_client_python both use to turn on multiprocess mode.
	EnvDir = "prometheus_multiproc_dir"

	defaultInitialSize = 1 << 20 // 1 MiB, matches spec.md's default page-rounded allocation
)

// Config controls where and how a Registry backing MmapValue stores its
// per-process dictionaries. The zero Config is not usable directly; build
// one with New or ConfigFromEnv.
type Config struct {
	Dir         string
	InitialSize int
	PIDProvider registry.PIDProvider
	Logger      log.Logger

	once sync.Once
	reg  *registry.Registry
}

// Option mutates a Config being built by New.
type Option func(*Config)

// WithDir sets the directory multiprocess dict files live under.
func WithDir(dir string) Option {
	return func(c *Config) { c.Dir = dir }
}

// WithInitialSize overrides the initial mmap size (in bytes) for newly
// allocated dict files. It will be rounded up to a page multiple.
func WithInitialSize(size int) Option {
	return func(c *Config) { c.InitialSize = size }
}

// WithPIDProvider overrides how a process's identity token is derived,
// useful for pre-fork worker pools that hand out their own worker ids
// instead of relying on the OS pid.
func WithPIDProvider(p registry.PIDProvider) Option {
	return func(c *Config) { c.PIDProvider = p }
}

// WithLogger sets the logger used for setup errors, per-write warnings,
// and lifecycle events (registry reinitialization, file growth). Defaults
// to a no-op logger: a library must never force output on an embedder.
func WithLogger(logger log.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// New builds a Config from opts, applying defaults for any field left
// unset.
func New(opts ...Option) *Config {
	c := &Config{InitialSize: defaultInitialSize}
	for _, opt := range opts {
		opt(c)
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	return c
}

// ConfigFromEnv builds a Config the way prometheus_client_python does:
// multiprocess mode is enabled by the presence of the prometheus_multiproc_dir
// environment variable. It returns (nil, false) when the variable is unset
// or empty, signaling that the caller should fall back to in-process
// (InMemoryValue) storage.
func ConfigFromEnv(opts ...Option) (*Config, bool) {
	dir := os.Getenv(EnvDir)
	if dir == "" {
		return nil, false
	}
	return New(append([]Option{WithDir(dir)}, opts...)...), true
}

// newRegistry builds the Registry this Config describes.
func (c *Config) newRegistry() *registry.Registry {
	return registry.New(c.Dir, c.InitialSize, c.PIDProvider, c.Logger)
}
