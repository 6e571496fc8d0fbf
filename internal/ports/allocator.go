// Package ports assigns host ports to worktrees.
//
// Allocation is two-phase: a candidate must first be bindable on this host
// (the OS probe), then it is reserved in the state file under the state lock.
// The reservation is the serialization point between concurrent wg
// processes; losing it is retried with the next candidate.
package ports

import (
	"context"
	"log/slog"
	"maps"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/state"
)

// Defaults for the candidate range and the conflict retry bound.
const (
	DefaultBasePort    = 10000
	DefaultMaxPort     = 65000
	DefaultMaxAttempts = 32
)

// Reserver is the part of the state store the allocator needs.
type Reserver interface {
	Load(ctx context.Context) (*state.State, error)
	Reserve(ctx context.Context, alloc state.PortAllocation) error
	Release(ctx context.Context, owner string, ports ...int) ([]state.Reservation, error)
}

// Allocator hands out ports from a fixed range.
type Allocator struct {
	store       Reserver
	prober      Prober
	basePort    int
	maxPort     int
	maxAttempts int
	log         *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithProber replaces the OS probe.
func WithProber(p Prober) Option {
	return func(a *Allocator) { a.prober = p }
}

// WithRange sets the inclusive candidate range.
func WithRange(lo, hi int) Option {
	return func(a *Allocator) {
		if lo > 0 {
			a.basePort = lo
		}
		if hi > 0 {
			a.maxPort = hi
		}
	}
}

// WithMaxAttempts bounds how many lost reservation races a single name may
// suffer before allocation gives up.
func WithMaxAttempts(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// NewAllocator returns an allocator reserving through store.
func NewAllocator(store Reserver, opts ...Option) *Allocator {
	a := &Allocator{
		store:       store,
		prober:      TCPProber{},
		basePort:    DefaultBasePort,
		maxPort:     DefaultMaxPort,
		maxAttempts: DefaultMaxAttempts,
		log:         logger.ComponentLogger("ports"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate reserves one port per name, in the order given, for owner.
// Ports in excluded are never chosen. On any failure the ports already
// reserved by this call are released before the error is returned.
func (a *Allocator) Allocate(ctx context.Context, owner string, names []string, excluded map[int]bool) ([]state.PortAllocation, error) {
	skip := maps.Clone(excluded)
	if skip == nil {
		skip = make(map[int]bool)
	}

	var allocated []state.PortAllocation
	next := a.basePort
	for _, name := range names {
		port, err := a.allocateOne(ctx, owner, name, next, skip)
		if err != nil {
			a.releaseAll(owner, allocated)
			return nil, err
		}
		allocated = append(allocated, state.PortAllocation{Name: name, Port: port, Owner: owner})
		skip[port] = true
		next = port + 1
	}
	return allocated, nil
}

func (a *Allocator) allocateOne(ctx context.Context, owner, name string, start int, skip map[int]bool) (int, error) {
	st, err := a.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	reserved := st.ReservedPorts()

	conflicts := 0
	for port := start; port <= a.maxPort; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if skip[port] || reserved[port] {
			continue
		}
		if !a.prober.Available(port) {
			a.log.Debug("port busy on host", "port", port)
			continue
		}

		err := a.store.Reserve(ctx, state.PortAllocation{Name: name, Port: port, Owner: owner})
		if err == nil {
			a.log.Debug("allocated port", "name", name, "port", port, "owner", owner)
			return port, nil
		}
		if !wgerrors.Is(err, wgerrors.KindAllocationConflict) {
			return 0, err
		}

		conflicts++
		a.log.Debug("lost reservation race", "name", name, "port", port, "attempt", conflicts)
		if conflicts >= a.maxAttempts {
			break
		}
		// Someone else is reserving; refresh our view of the table.
		if st, err := a.store.Load(ctx); err == nil {
			reserved = st.ReservedPorts()
		}
	}

	a.log.Warn("ports exhausted", "name", name, "owner", owner, "conflicts", conflicts)
	return 0, wgerrors.PortsExhausted(a.basePort, a.maxPort)
}

func (a *Allocator) releaseAll(owner string, allocs []state.PortAllocation) {
	if len(allocs) == 0 {
		return
	}
	ports := make([]int, len(allocs))
	for i, p := range allocs {
		ports[i] = p.Port
	}
	// Release must happen even when the caller was cancelled.
	if _, err := a.store.Release(context.Background(), owner, ports...); err != nil {
		a.log.Error("failed to release partial allocation", "owner", owner, "ports", ports, "error", err)
	}
}

// Release frees owner's reservations of ports. Releasing ports that are not
// reserved is a no-op.
func (a *Allocator) Release(ctx context.Context, owner string, ports []int) error {
	if len(ports) == 0 {
		return nil
	}
	_, err := a.store.Release(ctx, owner, ports...)
	return err
}

// Range returns the inclusive candidate range.
func (a *Allocator) Range() (int, int) {
	return a.basePort, a.maxPort
}
