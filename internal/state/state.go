// Package state persists the worktrees workgarden manages and the ports
// they hold. The state file at the main repository root is the single source
// of truth shared by concurrent wg invocations.
package state

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"time"
)

// CurrentVersion is the state file format version.
const CurrentVersion = 1

// PortAllocation binds a logical port name to a reserved host port.
type PortAllocation struct {
	Name  string `json:"name"`
	Port  int    `json:"port"`
	Owner string `json:"owner"`
}

// Reservation is a PortAllocation recorded in the reservation table,
// together with the process that made it.
type Reservation struct {
	PortAllocation
	PID        int       `json:"pid"`
	ReservedAt time.Time `json:"reserved_at"`
}

// Claim marks a worktree identifier as taken by an in-flight create.
type Claim struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// WorktreeRecord describes one managed worktree.
type WorktreeRecord struct {
	ID         string            `json:"id"`
	Branch     string            `json:"branch"`
	BaseBranch string            `json:"base_branch,omitempty"`
	Path       string            `json:"path"`
	CreatedAt  time.Time         `json:"created_at"`
	Ports      []PortAllocation  `json:"ports"`
	Overlays   []string          `json:"overlays,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *WorktreeRecord) Clone() *WorktreeRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Ports = slices.Clone(r.Ports)
	c.Overlays = slices.Clone(r.Overlays)
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}

// PortMap returns the record's ports keyed by logical name.
func (r *WorktreeRecord) PortMap() map[string]int {
	m := make(map[string]int, len(r.Ports))
	for _, p := range r.Ports {
		m[p.Name] = p.Port
	}
	return m
}

// State is the full content of the state file.
type State struct {
	Version      int                        `json:"version"`
	Worktrees    map[string]*WorktreeRecord `json:"worktrees"`
	Reservations []Reservation              `json:"reservations"`
	Claims       []Claim                    `json:"claims,omitempty"`
}

// New returns an empty state.
func New() *State {
	return &State{
		Version:      CurrentVersion,
		Worktrees:    make(map[string]*WorktreeRecord),
		Reservations: []Reservation{},
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		Version:      s.Version,
		Worktrees:    make(map[string]*WorktreeRecord, len(s.Worktrees)),
		Reservations: slices.Clone(s.Reservations),
		Claims:       slices.Clone(s.Claims),
	}
	for id, r := range s.Worktrees {
		c.Worktrees[id] = r.Clone()
	}
	if c.Reservations == nil {
		c.Reservations = []Reservation{}
	}
	return c
}

// Reservation returns the reservation holding port, if any.
func (s *State) Reservation(port int) (Reservation, bool) {
	for _, r := range s.Reservations {
		if r.Port == port {
			return r, true
		}
	}
	return Reservation{}, false
}

// ReservedPorts returns every reserved port.
func (s *State) ReservedPorts() map[int]bool {
	m := make(map[int]bool, len(s.Reservations))
	for _, r := range s.Reservations {
		m[r.Port] = true
	}
	return m
}

// OwnedBy returns the reservations held by owner, sorted by port.
func (s *State) OwnedBy(owner string) []Reservation {
	var out []Reservation
	for _, r := range s.Reservations {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out
}

// Reserve adds a reservation. It fails with a conflict if the port is
// held by a different owner or name.
func (s *State) Reserve(r Reservation) error {
	if existing, ok := s.Reservation(r.Port); ok {
		if existing.Owner == r.Owner && existing.Name == r.Name {
			return nil
		}
		return &ConflictError{Port: r.Port, Owner: existing.Owner}
	}
	s.Reservations = append(s.Reservations, r)
	s.sortReservations()
	return nil
}

// Release removes owner's reservations for the given ports, or all of
// owner's reservations when no ports are given. It returns the removed
// reservations.
func (s *State) Release(owner string, ports ...int) []Reservation {
	var removed []Reservation
	kept := s.Reservations[:0]
	for _, r := range s.Reservations {
		if r.Owner == owner && (len(ports) == 0 || slices.Contains(ports, r.Port)) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	s.Reservations = kept
	return removed
}

// Claim returns the claim for id, if any.
func (s *State) Claim(id string) (Claim, bool) {
	for _, c := range s.Claims {
		if c.ID == id {
			return c, true
		}
	}
	return Claim{}, false
}

func (s *State) removeClaim(id string) {
	s.Claims = slices.DeleteFunc(s.Claims, func(c Claim) bool { return c.ID == id })
}

func (s *State) sortReservations() {
	sort.Slice(s.Reservations, func(i, j int) bool {
		return s.Reservations[i].Port < s.Reservations[j].Port
	})
}

// Check verifies the invariants every persisted state must satisfy:
// reserved ports are pairwise disjoint, records are keyed by their own
// identifier, and every port a record lists is reserved by that record.
func (s *State) Check() error {
	seen := make(map[int]string, len(s.Reservations))
	for _, r := range s.Reservations {
		if owner, dup := seen[r.Port]; dup {
			return fmt.Errorf("port %d reserved by both %s and %s", r.Port, owner, r.Owner)
		}
		seen[r.Port] = r.Owner
	}
	for id, rec := range s.Worktrees {
		if rec == nil {
			return fmt.Errorf("worktree %s has no record", id)
		}
		if rec.ID != id {
			return fmt.Errorf("worktree %s is stored under key %s", rec.ID, id)
		}
		for _, p := range rec.Ports {
			if owner, ok := seen[p.Port]; !ok || owner != id {
				return fmt.Errorf("worktree %s lists port %d (%s) without holding its reservation", id, p.Port, p.Name)
			}
		}
	}
	return nil
}

// ConflictError reports a port already reserved by someone else.
type ConflictError struct {
	Port  int
	Owner string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("port %d already reserved by %s", e.Port, e.Owner)
}
