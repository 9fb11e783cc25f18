package multiproc

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/metrics-mmap/coremmap/filename"
	"github.com/metrics-mmap/coremmap/keycodec"
	"github.com/metrics-mmap/coremmap/mmapdict"
	"github.com/metrics-mmap/coremmap/registry"
)

// Value is the capability trait a Counter, Gauge, Histogram or Summary
// accumulator is built against. It is satisfied by InMemoryValue, used
// when multiprocess mode is off, and MmapValue, used when it is on.
type Value interface {
	Set(v float64)
	Inc(delta float64)
	Get() (float64, error)
}

// InMemoryValue is a lock-free, single-process Value. It never fails.
type InMemoryValue struct {
	bits atomic.Uint64
}

// NewInMemoryValue returns an InMemoryValue initialized to initial.
func NewInMemoryValue(initial float64) *InMemoryValue {
	v := &InMemoryValue{}
	v.bits.Store(math.Float64bits(initial))
	return v
}

// Set stores v, discarding whatever was there before.
func (v *InMemoryValue) Set(f float64) {
	v.bits.Store(math.Float64bits(f))
}

// Inc adds delta to the current value via compare-and-swap retry.
func (v *InMemoryValue) Inc(delta float64) {
	for {
		old := v.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if v.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Get returns the current value. The error return is always nil; it
// exists so InMemoryValue satisfies Value alongside MmapValue.
func (v *InMemoryValue) Get() (float64, error) {
	return math.Float64frombits(v.bits.Load()), nil
}

// MmapValue is a Value backed by one entry in one process's mmapdict.Dict,
// identified by an encoded key. Set/Inc swallow storage errors after
// logging them at level.Warn, matching Value's no-error signature; Get
// surfaces them so a caller that does care (a scrape handler) still can.
type MmapValue struct {
	mu     sync.Mutex
	dict   *mmapdict.Dict
	key    []byte
	logger log.Logger
}

func newMmapValue(reg *registry.Registry, logger log.Logger, metricType string, mode GaugeMode, metricName, sampleName string, labels map[string]string) (*MmapValue, error) {
	dict, err := reg.Dict(filename.Prefix(metricType, string(mode)))
	if err != nil {
		return nil, err
	}
	return &MmapValue{
		dict:   dict,
		key:    keycodec.Encode(metricName, sampleName, labels),
		logger: logger,
	}, nil
}

// Set stores v in the backing dict file.
func (v *MmapValue) Set(f float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.dict.WriteValue(v.key, f); err != nil {
		level.Warn(v.logger).Log("msg", "failed to write mmap value", "err", err)
	}
}

// Inc adds delta to the value currently stored, read-modify-write under
// mu so concurrent Incs from the same process accumulate exactly.
func (v *MmapValue) Inc(delta float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cur, err := v.dict.ReadValue(v.key)
	if err != nil {
		level.Warn(v.logger).Log("msg", "failed to read mmap value before increment", "err", err)
		return
	}
	if err := v.dict.WriteValue(v.key, cur+delta); err != nil {
		level.Warn(v.logger).Log("msg", "failed to write mmap value", "err", err)
	}
}

// Get returns the value currently stored.
func (v *MmapValue) Get() (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dict.ReadValue(v.key)
}

// NewValue returns the Value a metric object should accumulate into:
// an MmapValue sharing this Config's Registry when Dir is set, or an
// InMemoryValue otherwise. metricType is one of "counter", "gauge",
// "histogram", "summary"; mode is only meaningful for "gauge" and is
// ignored otherwise.
func (c *Config) NewValue(metricType string, mode GaugeMode, metricName, sampleName string, labels map[string]string) (Value, error) {
	if c.Dir == "" {
		return NewInMemoryValue(0), nil
	}
	return newMmapValue(c.registryLocked(), c.Logger, metricType, mode, metricName, sampleName, labels)
}

func (c *Config) registryLocked() *registry.Registry {
	c.once.Do(func() {
		c.reg = c.newRegistry()
	})
	return c.reg
}

// Close releases every file this Config's Registry holds open. It is a
// no-op if Dir was never set (no Registry was ever built).
func (c *Config) Close() error {
	if c.reg == nil {
		return nil
	}
	return c.reg.Close()
}
