package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/fsutil"
	"github.com/zhubert/workgarden/internal/logger"
)

// FileName is the state file at the main repository root.
const FileName = ".workgarden.state.json"

const defaultRetryDelay = 25 * time.Millisecond

// Store reads and writes the state file. Every mutation runs as a
// lock-scoped read-modify-write; the lock is never held between calls.
type Store struct {
	path       string
	lockPath   string
	pid        int
	retryDelay time.Duration
	now        func() time.Time
	log        *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPID overrides the process id recorded on reservations and claims.
func WithPID(pid int) Option {
	return func(s *Store) { s.pid = pid }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a store for the state file under root.
func NewStore(root string, opts ...Option) *Store {
	path := filepath.Join(root, FileName)
	s := &Store{
		path:       path,
		lockPath:   path + ".lock",
		pid:        os.Getpid(),
		retryDelay: defaultRetryDelay,
		now:        time.Now,
		log:        logger.ComponentLogger("state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// PID returns the process id this store records as owner of its claims.
func (s *Store) PID() int { return s.pid }

// Load reads the current state. A missing file is an empty state.
func (s *Store) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.read()
}

func (s *Store) read() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, wgerrors.StateUnreadable(s.path, err)
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, wgerrors.StateUnreadable(s.path, err)
	}
	if st.Version > CurrentVersion {
		return nil, wgerrors.StateUnreadable(s.path, fmt.Errorf("unsupported state version %d", st.Version))
	}
	if st.Worktrees == nil {
		st.Worktrees = make(map[string]*WorktreeRecord)
	}
	if st.Reservations == nil {
		st.Reservations = []Reservation{}
	}
	st.Version = CurrentVersion
	return st, nil
}

func (s *Store) write(st *State) error {
	st.sortReservations()
	sort.Slice(st.Claims, func(i, j int) bool { return st.Claims[i].ID < st.Claims[j].ID })
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return wgerrors.StateWriteFailed(s.path, err)
	}
	data = append(data, '\n')
	if err := fsutil.AtomicWriteFile(s.path, data, 0o644); err != nil {
		return wgerrors.StateWriteFailed(s.path, err)
	}
	return nil
}

func (s *Store) lock(ctx context.Context) (*flock.Flock, error) {
	fl := flock.New(s.lockPath)
	ok, err := fl.TryLockContext(ctx, s.retryDelay)
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("state.lock"), wgerrors.KindState, "acquiring state lock", err)
	}
	if !ok {
		return nil, wgerrors.E(wgerrors.Op("state.lock"), wgerrors.KindState, "state lock not acquired")
	}
	return fl, nil
}

// Update runs fn on the current state while holding the state lock and
// persists the result atomically. Nothing is written if fn returns an error
// or the result violates the state invariants.
func (s *Store) Update(ctx context.Context, fn func(*State) error) error {
	fl, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	st, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	if err := st.Check(); err != nil {
		return wgerrors.E(wgerrors.Op("state.Update"), wgerrors.KindState, "refusing to persist inconsistent state", err)
	}
	return s.write(st)
}

// Reserve records a port reservation. A port already held by another
// owner yields an AllocationConflict error.
func (s *Store) Reserve(ctx context.Context, alloc PortAllocation) error {
	err := s.Update(ctx, func(st *State) error {
		return st.Reserve(Reservation{PortAllocation: alloc, PID: s.pid, ReservedAt: s.now().UTC()})
	})
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		s.log.Debug("reservation conflict", "port", alloc.Port, "owner", alloc.Owner, "holder", conflict.Owner)
		return wgerrors.AllocationConflict(conflict.Port, conflict.Owner)
	}
	if err == nil {
		s.log.Debug("reserved port", "port", alloc.Port, "name", alloc.Name, "owner", alloc.Owner)
	}
	return err
}

// Release drops owner's reservations for ports (all of them when ports is
// empty). Releasing ports that are not reserved is not an error.
func (s *Store) Release(ctx context.Context, owner string, ports ...int) ([]Reservation, error) {
	var removed []Reservation
	err := s.Update(ctx, func(st *State) error {
		if rec := st.Worktrees[owner]; rec != nil {
			rec.Ports = keepPorts(rec.Ports, ports)
		}
		removed = st.Release(owner, ports...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.log.Debug("released ports", "owner", owner, "count", len(removed))
	}
	return removed, nil
}

func keepPorts(allocs []PortAllocation, released []int) []PortAllocation {
	if len(released) == 0 {
		return nil
	}
	var kept []PortAllocation
	for _, a := range allocs {
		drop := false
		for _, p := range released {
			if a.Port == p {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, a)
		}
	}
	return kept
}

// Claim reserves a worktree identifier for an in-flight create. It fails if
// a record exists or a live process already holds the claim.
func (s *Store) Claim(ctx context.Context, id string) error {
	return s.Update(ctx, func(st *State) error {
		if _, ok := st.Worktrees[id]; ok {
			return wgerrors.WorktreeExists(id)
		}
		if c, ok := st.Claim(id); ok && c.PID != s.pid && processAlive(c.PID) {
			return wgerrors.E(wgerrors.Op("state.Claim"), wgerrors.KindValidation,
				fmt.Sprintf("worktree %q is being created by process %d", id, c.PID))
		}
		st.removeClaim(id)
		st.Claims = append(st.Claims, Claim{ID: id, PID: s.pid, ClaimedAt: s.now().UTC()})
		return nil
	})
}

// Unclaim drops the claim for id.
func (s *Store) Unclaim(ctx context.Context, id string) error {
	return s.Update(ctx, func(st *State) error {
		st.removeClaim(id)
		return nil
	})
}

// Record returns a copy of the record for id.
func (s *Store) Record(ctx context.Context, id string) (*WorktreeRecord, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := st.Worktrees[id]
	if !ok {
		return nil, wgerrors.WorktreeNotFound(id)
	}
	return rec.Clone(), nil
}

// Snapshot is the state content at the start of a transaction.
type Snapshot struct {
	state   *State
	TakenAt time.Time
}

// Record returns the snapshot's record for id, or nil.
func (sn *Snapshot) Record(id string) *WorktreeRecord {
	return sn.state.Worktrees[id].Clone()
}

// Reservations returns the snapshot's reservations held by owner.
func (sn *Snapshot) Reservations(owner string) []Reservation {
	return sn.state.OwnedBy(owner)
}

// Snapshot captures the current state. Failure to read the state file is
// reported before any mutation is attempted.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	st, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{state: st.Clone(), TakenAt: s.now()}, nil
}

// Revert restores the entries owned by owner (its record and its
// reservations) to their value in snap. Entries owned by others are left
// untouched.
func (s *Store) Revert(ctx context.Context, snap *Snapshot, owner string) error {
	return s.Update(ctx, func(st *State) error {
		st.Release(owner)
		for _, r := range snap.state.OwnedBy(owner) {
			if err := st.Reserve(r); err != nil {
				return err
			}
		}
		if rec := snap.state.Worktrees[owner]; rec != nil {
			st.Worktrees[owner] = rec.Clone()
		} else {
			delete(st.Worktrees, owner)
		}
		return nil
	})
}

// PruneOptions controls Prune.
type PruneOptions struct {
	DryRun bool
	// Stale reports records to drop, typically because their directory is gone.
	Stale func(*WorktreeRecord) bool
}

// PruneResult lists what Prune removed (or would remove on a dry run).
type PruneResult struct {
	Records      []*WorktreeRecord
	Reservations []Reservation
	Claims       []Claim
}

// Empty reports whether nothing was pruned.
func (r *PruneResult) Empty() bool {
	return len(r.Records) == 0 && len(r.Reservations) == 0 && len(r.Claims) == 0
}

var errDryRun = errors.New("dry run")

// Prune drops stale records together with their reservations, claims whose
// process is gone, and reservations whose owner has neither a record nor a
// live claim.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (*PruneResult, error) {
	res := &PruneResult{}
	err := s.Update(ctx, func(st *State) error {
		ids := make([]string, 0, len(st.Worktrees))
		for id := range st.Worktrees {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			rec := st.Worktrees[id]
			if opts.Stale == nil || !opts.Stale(rec) {
				continue
			}
			res.Records = append(res.Records, rec.Clone())
			res.Reservations = append(res.Reservations, st.Release(id)...)
			delete(st.Worktrees, id)
		}

		live := make(map[string]bool)
		var keptClaims []Claim
		for _, c := range st.Claims {
			if processAlive(c.PID) {
				live[c.ID] = true
				keptClaims = append(keptClaims, c)
				continue
			}
			res.Claims = append(res.Claims, c)
		}
		st.Claims = keptClaims

		var kept []Reservation
		for _, r := range st.Reservations {
			if _, ok := st.Worktrees[r.Owner]; !ok && !live[r.Owner] && !processAlive(r.PID) {
				res.Reservations = append(res.Reservations, r)
				continue
			}
			kept = append(kept, r)
		}
		if kept == nil {
			kept = []Reservation{}
		}
		st.Reservations = kept

		if opts.DryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, err
	}
	if !opts.DryRun && !res.Empty() {
		s.log.Info("pruned state", "records", len(res.Records), "reservations", len(res.Reservations), "claims", len(res.Claims))
	}
	return res, nil
}
