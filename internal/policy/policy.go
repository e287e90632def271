// Package policy supplies the auto-close configuration the triage engine
// reads at decision time. Sources are read per run; any caching is the
// explicit Cache wrapper with a stated TTL.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the system-wide auto-close configuration.
type Policy struct {
	AutoCloseEnabled    bool    `json:"auto_close_enabled" yaml:"auto_close_enabled"`
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// Validate checks the threshold is a probability.
func (p Policy) Validate() error {
	if math.IsNaN(p.ConfidenceThreshold) || p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v must be within [0,1]", p.ConfidenceThreshold)
	}
	return nil
}

// ShouldAutoClose reports whether a classification at confidence qualifies for auto-close.
func (p Policy) ShouldAutoClose(confidence float64) bool {
	return p.AutoCloseEnabled && confidence >= p.ConfidenceThreshold
}

// Source yields the policy current at the time of the call.
type Source interface {
	Current(ctx context.Context) (Policy, error)
}

// Static is a fixed policy, typically built from flags.
type Static Policy

// Current implements Source.
func (s Static) Current(context.Context) (Policy, error) {
	return Policy(s), nil
}

// File reads a YAML policy document on every call, so edits apply to the next run.
type File struct {
	Path string
}

// Current implements Source.
func (f File) Current(context.Context) (Policy, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", f.Path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy file %s: %w", f.Path, err)
	}
	return p, nil
}

// ErrNoPolicy is returned by Cache when the source has never produced a value.
var ErrNoPolicy = errors.New("no policy loaded")

// Cache wraps a Source. A returned policy is at most TTL old, except when the
// source fails: then the last good policy is served until a refresh succeeds.
type Cache struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	cached    Policy
	loaded    bool
	fetchedAt time.Time
}

// NewCache creates a Cache over src. A ttl <= 0 disables caching.
func NewCache(src Source, ttl time.Duration) *Cache {
	return &Cache{src: src, ttl: ttl, now: time.Now}
}

// Current implements Source.
func (c *Cache) Current(ctx context.Context) (Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && c.ttl > 0 && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.cached, nil
	}

	p, err := c.src.Current(ctx)
	if err != nil {
		if c.loaded {
			return c.cached, nil
		}
		return Policy{}, errors.Join(ErrNoPolicy, err)
	}
	c.cached = p
	c.loaded = true
	c.fetchedAt = c.now()
	return p, nil
}
