// Package idgen provides the default session ID generator.
package idgen

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aretw0/dwsm/pkg/domain"
	"github.com/aretw0/dwsm/pkg/ports"
	"github.com/google/uuid"
)

var _ ports.IDGenerator = (*Generator)(nil)

var workerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{0,32}$`)

// Generator mints IDs of the form <random hex><base36 millis>[.<worker>].
// The worker suffix lets operators see which process minted a session.
type Generator struct {
	worker  string
	rand    io.Reader
	running atomic.Bool
}

type Option func(*Generator)

// WithWorker appends a process identifier to every ID.
func WithWorker(name string) Option {
	return func(g *Generator) {
		g.worker = name
	}
}

// WithRandom replaces the entropy source, mostly for tests.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) {
		g.rand = r
	}
}

// New creates a stopped generator.
func New(opts ...Option) (*Generator, error) {
	g := &Generator{}
	for _, opt := range opts {
		opt(g)
	}
	if !workerPattern.MatchString(g.worker) {
		return nil, fmt.Errorf("invalid worker name %q", g.worker)
	}
	return g, nil
}

// Start enables ID generation.
func (g *Generator) Start(ctx context.Context) error {
	g.running.Store(true)
	return nil
}

// Stop disables ID generation.
func (g *Generator) Stop(ctx context.Context) error {
	g.running.Store(false)
	return nil
}

// NewSessionID returns a new identifier seeded with now.
func (g *Generator) NewSessionID(ctx context.Context, now time.Time) (string, error) {
	if !g.running.Load() {
		return "", domain.ErrGeneratorStopped
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var (
		u   uuid.UUID
		err error
	)
	if g.rand != nil {
		u, err = uuid.NewRandomFromReader(g.rand)
	} else {
		u, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("failed to read entropy: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(u.String(), "-", ""))
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 36))
	if g.worker != "" {
		b.WriteByte('.')
		b.WriteString(g.worker)
	}
	return b.String(), nil
}
