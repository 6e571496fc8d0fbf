// Package worktree provisions and removes worktrees. It turns a request into
// an ordered plan of operations and runs the plan as one transaction: either
// every step lands, or every completed step is undone.
package worktree

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhubert/workgarden/internal/config"
	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/exec"
	"github.com/zhubert/workgarden/internal/fsutil"
	"github.com/zhubert/workgarden/internal/git"
	"github.com/zhubert/workgarden/internal/hooks"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/overlay"
	"github.com/zhubert/workgarden/internal/ports"
	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/template"
	"github.com/zhubert/workgarden/internal/txn"
)

// statusWorkers bounds concurrent git status calls in List.
const statusWorkers = 4

// Manager is the entry point for worktree operations on one repository.
type Manager struct {
	root      string
	cfg       *config.Config
	git       *git.Service
	store     *state.Store
	allocator *ports.Allocator
	runner    *hooks.Runner
	prober    ports.Prober
	onEvent   func(txn.Event)
	now       func() time.Time
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig uses cfg instead of loading .workgarden.yaml.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithGit replaces the git service.
func WithGit(svc *git.Service) Option {
	return func(m *Manager) { m.git = svc }
}

// WithStore replaces the state store.
func WithStore(store *state.Store) Option {
	return func(m *Manager) { m.store = store }
}

// WithHookExecutor runs hook commands through executor.
func WithHookExecutor(executor exec.CommandExecutor) Option {
	return func(m *Manager) { m.runner = hooks.NewRunner(executor) }
}

// WithProber replaces the OS port probe.
func WithProber(p ports.Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithEvents registers a progress callback for transactions.
func WithEvents(fn func(txn.Event)) Option {
	return func(m *Manager) { m.onEvent = fn }
}

// NewManager returns a manager for the main repository at root. Unless a
// config is given, .workgarden.yaml is loaded from root.
func NewManager(root string, opts ...Option) (*Manager, error) {
	m := &Manager{
		root: root,
		now:  time.Now,
		log:  logger.ComponentLogger("worktree"),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.cfg == nil {
		cfg, err := config.LoadAndMerge(root)
		if err != nil {
			return nil, err
		}
		m.cfg = cfg
	}
	if m.git == nil {
		m.git = git.NewService()
	}
	if m.store == nil {
		m.store = state.NewStore(root)
	}
	if m.runner == nil {
		m.runner = hooks.NewRunner(exec.NewRealExecutor())
	}

	p := m.cfg.DockerCompose.Ports
	allocOpts := []ports.Option{
		ports.WithRange(p.BasePort, p.MaxPort),
		ports.WithMaxAttempts(p.MaxAttempts),
	}
	if m.prober != nil {
		allocOpts = append(allocOpts, ports.WithProber(m.prober))
	}
	m.allocator = ports.NewAllocator(m.store, allocOpts...)
	return m, nil
}

// Root returns the main repository root.
func (m *Manager) Root() string { return m.root }

// Config returns the effective configuration.
func (m *Manager) Config() *config.Config { return m.cfg }

// Store returns the state store.
func (m *Manager) Store() *state.Store { return m.store }

// CreateOptions controls Create.
type CreateOptions struct {
	Branch    string
	Base      string
	SkipEnv   bool
	SkipPorts bool
	SkipHooks bool
	DryRun    bool
	// ForceEnv overwrites existing env destinations even when the config
	// does not.
	ForceEnv bool
}

// RemoveOptions controls Remove.
type RemoveOptions struct {
	Branch     string
	Force      bool
	KeepBranch bool
	SkipHooks  bool
}

// Result is the outcome of a committed (or dry-run) transaction.
type Result struct {
	Record *state.WorktreeRecord
	Report *txn.Report
	// Hooks holds the output of every hook command that ran.
	Hooks []hooks.Result
}

// Warnings returns the non-fatal problems raised by the transaction.
func (r *Result) Warnings() []string {
	if r == nil || r.Report == nil {
		return nil
	}
	return r.Report.Warnings()
}

// Create provisions a worktree for opts.Branch. Requests that cannot
// succeed (invalid branch, existing worktree or path, branch checked out
// elsewhere) are rejected before anything changes.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Result, error) {
	if err := git.ValidateBranchName(opts.Branch); err != nil {
		return nil, err
	}
	id := git.Slug(opts.Branch)
	if id == "" {
		return nil, wgerrors.InvalidBranch(opts.Branch, "does not produce a usable identifier")
	}
	log := logger.WithWorktree(id)

	repoName := m.git.RepoName(m.root)
	pathVars := template.PathVariables{RepoName: repoName, Branch: opts.Branch, BranchSlug: id}
	path, err := m.cfg.WorktreePath(m.root, pathVars)
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("worktree.Create"), wgerrors.KindConfig, err)
	}

	if opts.DryRun {
		st, err := m.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if _, ok := st.Worktrees[id]; ok {
			return nil, wgerrors.WorktreeExists(id)
		}
	} else {
		if err := m.store.Claim(ctx, id); err != nil {
			return nil, err
		}
		defer func() {
			if err := m.store.Unclaim(context.WithoutCancel(ctx), id); err != nil {
				log.Warn("failed to drop claim", "error", err)
			}
		}()
	}

	if fsutil.Exists(path) {
		return nil, wgerrors.PathExists(path)
	}

	localBranch, err := m.git.LocalBranchExists(m.root, opts.Branch)
	if err != nil {
		return nil, err
	}
	if localBranch {
		inUse, err := m.git.BranchCheckedOut(ctx, m.root, opts.Branch, "")
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, wgerrors.E(wgerrors.Op("worktree.Create"), wgerrors.KindValidation,
				fmt.Sprintf("branch %s is already checked out", opts.Branch),
				wgerrors.Hint("a branch can only be checked out in one worktree"))
		}
		if opts.Base != "" {
			log.Warn("branch exists, ignoring base", "branch", opts.Branch, "base", opts.Base)
			opts.Base = ""
		}
	} else {
		// A branch that only exists on origin gets a local tracking branch,
		// which this create owns and rollback deletes.
		remoteBranch, err := m.git.BranchExists(m.root, opts.Branch)
		if err != nil {
			return nil, err
		}
		if remoteBranch {
			if opts.Base != "" {
				log.Warn("branch exists on origin, ignoring base", "branch", opts.Branch, "base", opts.Base)
			}
			opts.Base = "origin/" + opts.Branch
		}
	}

	vars := template.NewContext(repoName, opts.Branch, id, path, m.cfg.Environment.Substitutions.CustomVariables)
	p := m.planCreate(id, path, opts, !localBranch, vars)

	log.Info("creating worktree", "branch", opts.Branch, "path", path, "operations", len(p.ops), "dryRun", opts.DryRun)
	report, err := m.transactions(opts.DryRun).Execute(ctx, id, p.ops)
	res := &Result{Report: report, Hooks: p.hookResults()}
	if err != nil {
		return res, err
	}
	if !opts.DryRun {
		res.Record, err = m.store.Record(ctx, id)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (m *Manager) transactions(dryRun bool) *txn.Manager {
	return txn.NewManager(m.store, txn.WithEvents(m.onEvent), txn.WithDryRun(dryRun))
}

// createPlan is the operation list of one create plus the ops whose results
// feed the state record.
type createPlan struct {
	ops      []txn.Operation
	ports    *AllocatePortsOp
	overlays []*GenerateOverlayOp
	hooks    []*RunHookOp
}

func (p *createPlan) hookResults() []hooks.Result {
	var out []hooks.Result
	for _, h := range p.hooks {
		out = append(out, h.Results()...)
	}
	return out
}

func (m *Manager) planCreate(id, path string, opts CreateOptions, newBranch bool, vars *template.Context) *createPlan {
	p := &createPlan{}
	base := opts.Base
	if !newBranch {
		base = ""
	}
	p.ops = append(p.ops, &CreateWorktreeOp{
		Git:          m.git,
		Root:         m.root,
		Path:         path,
		Branch:       opts.Branch,
		Base:         base,
		CreateBranch: newBranch,
	})

	dc := m.cfg.DockerCompose
	if !opts.SkipPorts && len(dc.Files) > 0 {
		files := make([]string, len(dc.Files))
		for i, f := range dc.Files {
			files[i] = filepath.Join(path, f)
		}
		p.ports = &AllocatePortsOp{
			Allocator:     m.allocator,
			Owner:         id,
			Vars:          vars,
			ComposeFiles:  files,
			NamedMappings: dc.Ports.NamedMappings,
		}
		p.ops = append(p.ops, p.ports)

		for _, f := range files {
			op := &GenerateOverlayOp{
				BaseFile:    f,
				OverlayFile: overlay.Path(f, dc.OverlaySuffix),
				Vars:        vars,
				Options: overlay.Options{
					Project:       overlay.ProjectName(vars.Path().RepoName, id),
					Slug:          id,
					Suffix:        dc.OverlaySuffix,
					NamedMappings: dc.Ports.NamedMappings,
				},
			}
			p.overlays = append(p.overlays, op)
			p.ops = append(p.ops, op)
		}
	}

	if !opts.SkipEnv && len(m.cfg.Environment.CopyFiles) > 0 {
		files := make([]EnvCopy, len(m.cfg.Environment.CopyFiles))
		for i, f := range m.cfg.Environment.CopyFiles {
			files[i] = EnvCopy{Src: filepath.Join(m.root, f.Src), Dst: filepath.Join(path, f.Dst)}
		}
		p.ops = append(p.ops, &CopyEnvOp{
			Files:      files,
			Force:      opts.ForceEnv || m.cfg.ForceEnv(),
			Substitute: m.cfg.SubstitutionsEnabled(),
			Vars:       vars,
		})
	}

	for _, dir := range m.cfg.AuxConfig.Dirs {
		p.ops = append(p.ops, &CopyAuxConfigOp{
			Source: filepath.Join(m.root, dir),
			Dest:   filepath.Join(path, dir),
		})
	}

	if !opts.SkipHooks && len(m.cfg.Hooks.PostCreate) > 0 {
		h := m.hookOp(hooks.PostCreate, m.cfg.Hooks.PostCreate, path, vars, false)
		p.hooks = append(p.hooks, h)
		p.ops = append(p.ops, h)
	}

	p.ops = append(p.ops, &UpdateStateOp{
		Store: m.store,
		ID:    id,
		Record: func() *state.WorktreeRecord {
			return p.record(id, path, opts, m.now())
		},
	})

	if !opts.SkipHooks && len(m.cfg.Hooks.PostSetup) > 0 {
		h := m.hookOp(hooks.PostSetup, m.cfg.Hooks.PostSetup, path, vars, false)
		p.hooks = append(p.hooks, h)
		p.ops = append(p.ops, h)
	}
	return p
}

func (p *createPlan) record(id, path string, opts CreateOptions, now time.Time) *state.WorktreeRecord {
	rec := &state.WorktreeRecord{
		ID:         id,
		Branch:     opts.Branch,
		BaseBranch: opts.Base,
		Path:       path,
		CreatedAt:  now.UTC(),
		Ports:      []state.PortAllocation{},
	}
	if p.ports != nil {
		rec.Ports = append(rec.Ports, p.ports.Allocated()...)
	}
	for _, o := range p.overlays {
		if !o.Written() {
			continue
		}
		if rel, err := filepath.Rel(path, o.OverlayFile); err == nil {
			rec.Overlays = append(rec.Overlays, rel)
		}
	}
	return rec
}

func (m *Manager) hookOp(hook string, commands []config.HookConfig, dir string, vars *template.Context, warnOnly bool) *RunHookOp {
	return &RunHookOp{
		Runner:   m.runner,
		Hook:     hook,
		Commands: commands,
		Dir:      dir,
		Vars:     vars,
		WarnOnly: warnOnly,
	}
}

// Remove tears down the worktree of opts.Branch (a branch name or an
// identifier). Without Force a worktree with uncommitted changes is
// refused before anything changes.
func (m *Manager) Remove(ctx context.Context, opts RemoveOptions) (*Result, error) {
	rec, err := m.Find(ctx, opts.Branch)
	if err != nil {
		return nil, err
	}
	log := logger.WithWorktree(rec.ID)

	exists := fsutil.Exists(rec.Path)
	if exists && !opts.Force {
		dirty, err := m.git.HasUncommittedChanges(ctx, rec.Path, m.generatedPaths(rec))
		if err != nil {
			log.Warn("could not read worktree status", "error", err)
		} else if dirty {
			return nil, wgerrors.UncommittedChanges(rec.Path)
		}
	}

	vars := template.NewContext(m.git.RepoName(m.root), rec.Branch, rec.ID, rec.Path, m.cfg.Environment.Substitutions.CustomVariables)
	for _, p := range rec.Ports {
		vars.SetPort(p.Name, p.Port)
	}

	var ops []txn.Operation
	var hookOps []*RunHookOp
	if !opts.SkipHooks && len(m.cfg.Hooks.PreRemove) > 0 {
		dir := rec.Path
		if !exists {
			dir = m.root
		}
		h := m.hookOp(hooks.PreRemove, m.cfg.Hooks.PreRemove, dir, vars, false)
		hookOps = append(hookOps, h)
		ops = append(ops, h)
	}

	// Our own status check already covered the files we generated, which
	// git counts as untracked; let git remove them.
	ops = append(ops,
		&RemoveWorktreeOp{Git: m.git, Root: m.root, Path: rec.Path, Branch: rec.Branch, Force: true},
		&UpdateStateOp{Store: m.store, ID: rec.ID},
	)
	if !opts.KeepBranch {
		ops = append(ops, &DeleteBranchOp{Git: m.git, Root: m.root, Branch: rec.Branch, Force: opts.Force})
	}
	if !opts.SkipHooks && len(m.cfg.Hooks.PostRemove) > 0 {
		h := m.hookOp(hooks.PostRemove, m.cfg.Hooks.PostRemove, m.root, vars, true)
		hookOps = append(hookOps, h)
		ops = append(ops, h)
	}

	log.Info("removing worktree", "branch", rec.Branch, "path", rec.Path, "keepBranch", opts.KeepBranch)
	report, err := m.transactions(false).Execute(ctx, rec.ID, ops)
	res := &Result{Record: rec, Report: report}
	for _, h := range hookOps {
		res.Hooks = append(res.Hooks, h.Results()...)
	}
	return res, err
}

// generatedPaths lists the worktree-relative paths workgarden itself put
// into a worktree.
func (m *Manager) generatedPaths(rec *state.WorktreeRecord) []string {
	paths := append([]string(nil), rec.Overlays...)
	for _, f := range m.cfg.DockerCompose.Files {
		paths = append(paths, overlay.Path(f, m.cfg.DockerCompose.OverlaySuffix))
	}
	for _, f := range m.cfg.Environment.CopyFiles {
		paths = append(paths, f.Dst)
	}
	return append(paths, m.cfg.AuxConfig.Dirs...)
}

// Find returns the record for a branch name or identifier.
func (m *Manager) Find(ctx context.Context, branchOrID string) (*state.WorktreeRecord, error) {
	st, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if rec, ok := st.Worktrees[branchOrID]; ok {
		return rec.Clone(), nil
	}
	if rec, ok := st.Worktrees[git.Slug(branchOrID)]; ok {
		return rec.Clone(), nil
	}
	for _, rec := range st.Worktrees {
		if rec.Branch == branchOrID {
			return rec.Clone(), nil
		}
	}
	return nil, wgerrors.WorktreeNotFound(branchOrID)
}

// Status is the health of a managed worktree.
type Status string

const (
	StatusOK       Status = "OK"
	StatusMissing  Status = "Missing"
	StatusModified Status = "Modified"
)

// Entry is one row of List.
type Entry struct {
	Record *state.WorktreeRecord
	Status Status
}

// List returns every managed worktree, sorted by identifier, with its
// status.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	st, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(st.Worktrees))
	for _, rec := range st.Worktrees {
		entries = append(entries, Entry{Record: rec.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Record.ID < entries[j].Record.ID })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statusWorkers)
	for i := range entries {
		g.Go(func() error {
			entries[i].Status = m.status(gctx, entries[i].Record)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) status(ctx context.Context, rec *state.WorktreeRecord) Status {
	if !fsutil.Exists(rec.Path) {
		return StatusMissing
	}
	dirty, err := m.git.HasUncommittedChanges(ctx, rec.Path, m.generatedPaths(rec))
	if err != nil {
		return StatusMissing
	}
	if dirty {
		return StatusModified
	}
	return StatusOK
}

// PruneOptions controls Prune.
type PruneOptions struct {
	DryRun bool
	// RemoveOrphans also removes git worktrees under the worktree base
	// directory that have no record.
	RemoveOrphans bool
}

// PruneReport lists what Prune found and fixed.
type PruneReport struct {
	State *state.PruneResult
	// Orphans are git worktrees under the base directory with no record.
	Orphans []string
	// Removed lists the orphans that were removed.
	Removed []string
	DryRun  bool
}

// Prune reconciles the state file with the disk: records whose directory is
// gone are dropped with their ports, dead claims and reservations are
// released, and orphaned worktrees are reported (and removed on request).
// Nothing here runs automatically.
func (m *Manager) Prune(ctx context.Context, opts PruneOptions) (*PruneReport, error) {
	res, err := m.store.Prune(ctx, state.PruneOptions{
		DryRun: opts.DryRun,
		Stale:  func(rec *state.WorktreeRecord) bool { return !fsutil.Exists(rec.Path) },
	})
	if err != nil {
		return nil, err
	}
	report := &PruneReport{State: res, DryRun: opts.DryRun}

	if !opts.DryRun {
		if err := m.git.PruneWorktrees(ctx, m.root); err != nil {
			m.log.Warn("git worktree prune failed", "error", err)
		}
	}

	orphans, err := m.orphans(ctx)
	if err != nil {
		return report, err
	}
	report.Orphans = orphans
	if !opts.RemoveOrphans || opts.DryRun {
		return report, nil
	}
	for _, path := range orphans {
		if err := m.git.RemoveWorktree(ctx, m.root, path, true); err != nil {
			return report, err
		}
		report.Removed = append(report.Removed, path)
	}
	return report, nil
}

func (m *Manager) orphans(ctx context.Context) ([]string, error) {
	base, err := m.cfg.WorktreeBaseDir(m.root, template.PathVariables{RepoName: m.git.RepoName(m.root)})
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("worktree.Prune"), wgerrors.KindConfig, err)
	}
	if resolved, err := filepath.EvalSymlinks(base); err == nil {
		base = resolved
	}

	st, err := m.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(st.Worktrees))
	for _, rec := range st.Worktrees {
		known[filepath.Clean(rec.Path)] = true
	}

	list, err := m.git.ListWorktrees(ctx, m.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, wt := range list {
		path := filepath.Clean(wt.Path)
		if wt.Bare || path == filepath.Clean(m.root) || known[path] {
			continue
		}
		if !within(base, path) {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
