package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zhubert/workgarden/internal/compose"
	"github.com/zhubert/workgarden/internal/config"
	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/fsutil"
	"github.com/zhubert/workgarden/internal/git"
	"github.com/zhubert/workgarden/internal/hooks"
	"github.com/zhubert/workgarden/internal/overlay"
	"github.com/zhubert/workgarden/internal/ports"
	"github.com/zhubert/workgarden/internal/state"
	"github.com/zhubert/workgarden/internal/template"
	"github.com/zhubert/workgarden/internal/txn"
)

// CreateWorktreeOp checks out Branch at Path.
type CreateWorktreeOp struct {
	Git          *git.Service
	Root         string
	Path         string
	Branch       string
	Base         string
	CreateBranch bool

	added bool
}

func (o *CreateWorktreeOp) Kind() txn.Kind { return txn.KindCreateWorktree }

func (o *CreateWorktreeOp) Describe() string {
	return fmt.Sprintf("Create worktree at %s", o.Path)
}

func (o *CreateWorktreeOp) Execute(ctx context.Context) error {
	if fsutil.Exists(o.Path) {
		return wgerrors.PathExists(o.Path)
	}
	if err := o.Git.AddWorktree(ctx, o.Root, o.Path, o.Branch, o.Base, o.CreateBranch); err != nil {
		return err
	}
	o.added = true
	return nil
}

// Rollback force-removes the working copy. A branch this op created is
// deleted as well, unless another worktree has it checked out.
func (o *CreateWorktreeOp) Rollback(ctx context.Context) error {
	if !o.added {
		return nil
	}
	var errs []error
	if fsutil.Exists(o.Path) {
		if err := o.Git.RemoveWorktree(ctx, o.Root, o.Path, true); err != nil {
			errs = append(errs, err)
		}
	} else if err := o.Git.PruneWorktrees(ctx, o.Root); err != nil {
		errs = append(errs, err)
	}

	if o.CreateBranch {
		if err := o.deleteBranch(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		o.added = false
	}
	return errors.Join(errs...)
}

func (o *CreateWorktreeOp) deleteBranch(ctx context.Context) error {
	exists, err := o.Git.LocalBranchExists(o.Root, o.Branch)
	if err != nil || !exists {
		return err
	}
	inUse, err := o.Git.BranchCheckedOut(ctx, o.Root, o.Branch, o.Path)
	if err != nil {
		return err
	}
	if inUse {
		return nil
	}
	return o.Git.DeleteBranch(ctx, o.Root, o.Branch, true)
}

// AllocatePortsOp reserves one host port per logical name and publishes
// them to the shared variables as PORT_<NAME>. When Names is empty the names
// are discovered from ComposeFiles when the op runs, so the compose files
// of the new working copy are the ones that count.
type AllocatePortsOp struct {
	Allocator     *ports.Allocator
	Owner         string
	Vars          *template.Context
	Names         []string
	ComposeFiles  []string
	NamedMappings map[int]string

	allocated []state.PortAllocation
}

func (o *AllocatePortsOp) Kind() txn.Kind { return txn.KindAllocatePorts }

func (o *AllocatePortsOp) Describe() string {
	if len(o.Names) > 0 {
		return fmt.Sprintf("Allocate ports %v", o.Names)
	}
	return "Allocate ports"
}

func (o *AllocatePortsOp) Execute(ctx context.Context) error {
	names := o.Names
	if len(names) == 0 {
		docs, err := compose.LoadAll(o.ComposeFiles)
		if err != nil {
			return err
		}
		names = compose.Names(docs, o.NamedMappings)
	}
	if len(names) == 0 {
		return nil
	}
	o.Names = names

	allocs, err := o.Allocator.Allocate(ctx, o.Owner, names, nil)
	if err != nil {
		return err
	}
	o.allocated = allocs
	for _, a := range allocs {
		o.Vars.SetPort(a.Name, a.Port)
	}
	return nil
}

func (o *AllocatePortsOp) Rollback(ctx context.Context) error {
	if len(o.allocated) == 0 {
		return nil
	}
	ports := make([]int, len(o.allocated))
	names := make([]string, len(o.allocated))
	for i, a := range o.allocated {
		ports[i] = a.Port
		names[i] = a.Name
	}
	if err := o.Allocator.Release(ctx, o.Owner, ports); err != nil {
		return err
	}
	o.Vars.ClearPorts(names...)
	o.allocated = nil
	return nil
}

// Allocated returns the ports reserved by Execute.
func (o *AllocatePortsOp) Allocated() []state.PortAllocation {
	return o.allocated
}

// GenerateOverlayOp writes the compose override of BaseFile to OverlayFile.
// A missing base file is skipped.
type GenerateOverlayOp struct {
	BaseFile    string
	OverlayFile string
	Vars        *template.Context
	Options     overlay.Options

	written  bool
	previous []byte
}

func (o *GenerateOverlayOp) Kind() txn.Kind { return txn.KindGenerateOverlay }

func (o *GenerateOverlayOp) Describe() string {
	return fmt.Sprintf("Generate %s", filepath.Base(o.OverlayFile))
}

func (o *GenerateOverlayOp) Execute(ctx context.Context) error {
	if !fsutil.Exists(o.BaseFile) {
		return nil
	}
	prev, err := os.ReadFile(o.OverlayFile)
	if err == nil && overlay.IsGenerated(prev) {
		o.previous = prev
	}

	changed, err := overlay.WriteFile(o.BaseFile, o.OverlayFile, o.Vars.Variables(), o.Options)
	if err != nil {
		return err
	}
	o.written = changed
	return nil
}

// Rollback deletes the overlay, or restores the generated overlay it
// replaced.
func (o *GenerateOverlayOp) Rollback(ctx context.Context) error {
	if !o.written {
		return nil
	}
	if o.previous != nil {
		if err := fsutil.AtomicWriteFile(o.OverlayFile, o.previous, 0o644); err != nil {
			return err
		}
	} else if err := os.Remove(o.OverlayFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	o.written = false
	return nil
}

// Written reports whether Execute produced an overlay file.
func (o *GenerateOverlayOp) Written() bool {
	return o.written || o.previous != nil
}

// EnvCopy is one resolved env file to copy.
type EnvCopy struct {
	Src string
	Dst string
}

// CopyEnvOp copies env files into the worktree, substituting {{VAR}}
// tokens. Missing sources are skipped.
type CopyEnvOp struct {
	Files      []EnvCopy
	Force      bool
	Substitute bool
	Vars       *template.Context

	created     []string
	overwritten map[string]savedFile
}

type savedFile struct {
	data []byte
	mode fs.FileMode
}

func (o *CopyEnvOp) Kind() txn.Kind { return txn.KindCopyEnv }

func (o *CopyEnvOp) Describe() string {
	return fmt.Sprintf("Copy %d env file(s)", len(o.Files))
}

type renderedFile struct {
	dst  string
	data []byte
	mode fs.FileMode
}

// Execute renders every file before writing any, so a substitution error
// leaves the worktree untouched.
func (o *CopyEnvOp) Execute(ctx context.Context) error {
	op := wgerrors.Op("worktree.CopyEnv")
	vars := o.Vars.Variables()

	var rendered []renderedFile
	for _, f := range o.Files {
		info, err := os.Stat(f.Src)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return wgerrors.E(op, wgerrors.KindIO, err)
		}
		data, err := os.ReadFile(f.Src)
		if err != nil {
			return wgerrors.E(op, wgerrors.KindIO, err)
		}
		if o.Substitute {
			out, err := template.Substitute(string(data), vars)
			if err != nil {
				return wgerrors.E(op, wgerrors.KindTemplate, f.Src, err)
			}
			data = []byte(out)
		}
		if fsutil.Exists(f.Dst) && !o.Force {
			return wgerrors.E(op, wgerrors.KindValidation, fmt.Sprintf("%s already exists", f.Dst),
				wgerrors.Hint("set environment.force: true to overwrite"))
		}
		rendered = append(rendered, renderedFile{dst: f.Dst, data: data, mode: info.Mode().Perm()})
	}

	o.overwritten = make(map[string]savedFile)
	for _, r := range rendered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if info, err := os.Stat(r.dst); err == nil {
			prev, err := os.ReadFile(r.dst)
			if err != nil {
				return wgerrors.E(op, wgerrors.KindIO, err)
			}
			if bytes.Equal(prev, r.data) {
				continue
			}
			o.overwritten[r.dst] = savedFile{data: prev, mode: info.Mode().Perm()}
		} else {
			o.created = append(o.created, r.dst)
		}
		if err := fsutil.AtomicWriteFile(r.dst, r.data, r.mode); err != nil {
			return wgerrors.E(op, wgerrors.KindIO, err)
		}
	}
	return nil
}

// Rollback deletes the files Execute created and restores the ones it
// overwrote.
func (o *CopyEnvOp) Rollback(ctx context.Context) error {
	var errs []error
	for _, p := range o.created {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	for p, saved := range o.overwritten {
		if err := fsutil.AtomicWriteFile(p, saved.data, saved.mode); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		o.created = nil
		o.overwritten = nil
	}
	return errors.Join(errs...)
}

// RunHookOp runs the commands of one lifecycle hook. With WarnOnly a
// failure is reported as a warning instead of failing the transaction.
type RunHookOp struct {
	Runner   *hooks.Runner
	Hook     string
	Commands []config.HookConfig
	Dir      string
	Vars     *template.Context
	WarnOnly bool

	done    []config.HookConfig
	results []hooks.Result
	warning string
}

func (o *RunHookOp) Kind() txn.Kind { return txn.KindRunHook }

func (o *RunHookOp) Describe() string {
	return fmt.Sprintf("Run %s hooks", o.Hook)
}

func (o *RunHookOp) Execute(ctx context.Context) error {
	vars := o.Vars.Variables()
	runs := make([]string, len(o.Commands))
	for i, c := range o.Commands {
		runs[i] = c.Run
	}
	if _, err := hooks.Prepare(runs, vars); err != nil {
		return o.fail(ctx, err)
	}

	for _, c := range o.Commands {
		results, err := o.Runner.Run(ctx, o.Hook, []string{c.Run}, o.Dir, vars)
		o.results = append(o.results, results...)
		if err != nil {
			return o.fail(ctx, err)
		}
		o.done = append(o.done, c)
	}
	return nil
}

// fail undoes the commands of this hook that already ran, since the
// transaction only rolls back completed operations.
func (o *RunHookOp) fail(ctx context.Context, err error) error {
	if o.WarnOnly {
		o.warning = err.Error()
		return nil
	}
	if undoErr := o.Rollback(context.WithoutCancel(ctx)); undoErr != nil {
		return errors.Join(err, undoErr)
	}
	return err
}

// Rollback runs the undo commands of the completed commands in reverse
// order. Every undo runs even when an earlier one fails.
func (o *RunHookOp) Rollback(ctx context.Context) error {
	if !hooks.Undoable(o.Hook) {
		return nil
	}
	vars := o.Vars.Variables()
	var errs []error
	for i := len(o.done) - 1; i >= 0; i-- {
		undo := o.done[i].Undo
		if undo == "" {
			continue
		}
		if _, err := o.Runner.Run(ctx, o.Hook+" undo", []string{undo}, o.Dir, vars); err != nil {
			errs = append(errs, err)
		}
	}
	o.done = nil
	return errors.Join(errs...)
}

// CanRollback reports whether any completed command has an undo.
func (o *RunHookOp) CanRollback() bool {
	if !hooks.Undoable(o.Hook) {
		return false
	}
	for _, c := range o.done {
		if c.Undo != "" {
			return true
		}
	}
	return false
}

func (o *RunHookOp) Warning() string { return o.warning }

// Results returns the executed commands.
func (o *RunHookOp) Results() []hooks.Result { return o.results }

// UpdateStateOp puts or deletes the record of one worktree. Record builds
// the record to store when the op runs; a nil Record deletes the entry and
// releases the worktree's reservations.
type UpdateStateOp struct {
	Store  *state.Store
	ID     string
	Record func() *state.WorktreeRecord

	applied  bool
	previous *state.WorktreeRecord
	held     []state.Reservation
}

func (o *UpdateStateOp) Kind() txn.Kind { return txn.KindUpdateState }

func (o *UpdateStateOp) Describe() string {
	if o.Record == nil {
		return fmt.Sprintf("Remove %s from state", o.ID)
	}
	return fmt.Sprintf("Record %s in state", o.ID)
}

func (o *UpdateStateOp) Execute(ctx context.Context) error {
	err := o.Store.Update(ctx, func(st *state.State) error {
		o.previous = st.Worktrees[o.ID].Clone()
		o.held = st.OwnedBy(o.ID)
		if o.Record == nil {
			delete(st.Worktrees, o.ID)
			st.Release(o.ID)
			return nil
		}
		rec := o.Record()
		rec.ID = o.ID
		st.Worktrees[o.ID] = rec
		return nil
	})
	if err != nil {
		return err
	}
	o.applied = true
	return nil
}

// Rollback restores this worktree's record and reservations to their value
// before Execute. Entries of other worktrees are not touched.
func (o *UpdateStateOp) Rollback(ctx context.Context) error {
	if !o.applied {
		return nil
	}
	err := o.Store.Update(ctx, func(st *state.State) error {
		st.Release(o.ID)
		for _, r := range o.held {
			if err := st.Reserve(r); err != nil {
				return err
			}
		}
		if o.previous == nil {
			delete(st.Worktrees, o.ID)
		} else {
			st.Worktrees[o.ID] = o.previous.Clone()
		}
		return nil
	})
	if err != nil {
		return err
	}
	o.applied = false
	return nil
}

// CopyAuxConfigOp mirrors a directory of the main repository into the
// worktree. Entries the worktree already has are kept as they are.
type CopyAuxConfigOp struct {
	Source string
	Dest   string

	created []string
}

func (o *CopyAuxConfigOp) Kind() txn.Kind { return txn.KindCopyAuxConfig }

func (o *CopyAuxConfigOp) Describe() string {
	return fmt.Sprintf("Copy %s", filepath.Base(o.Source))
}

func (o *CopyAuxConfigOp) Execute(ctx context.Context) error {
	if !fsutil.Exists(o.Source) {
		return nil
	}
	created, err := fsutil.CopyTree(o.Source, o.Dest)
	o.created = created
	if err != nil {
		return wgerrors.E(wgerrors.Op("worktree.CopyAuxConfig"), wgerrors.KindIO, o.Source, err)
	}
	return nil
}

func (o *CopyAuxConfigOp) Rollback(ctx context.Context) error {
	if err := fsutil.RemoveCreated(o.created); err != nil {
		return err
	}
	o.created = nil
	return nil
}

// RemoveWorktreeOp removes the working copy at Path. A directory that is
// already gone only has its git bookkeeping pruned.
type RemoveWorktreeOp struct {
	Git    *git.Service
	Root   string
	Path   string
	Branch string
	Force  bool

	removed bool
}

func (o *RemoveWorktreeOp) Kind() txn.Kind { return txn.KindRemoveWorktree }

func (o *RemoveWorktreeOp) Describe() string {
	return fmt.Sprintf("Remove worktree at %s", o.Path)
}

func (o *RemoveWorktreeOp) Execute(ctx context.Context) error {
	if !fsutil.Exists(o.Path) {
		return o.Git.PruneWorktrees(ctx, o.Root)
	}
	if err := o.Git.RemoveWorktree(ctx, o.Root, o.Path, o.Force); err != nil {
		return err
	}
	o.removed = true
	return nil
}

// Rollback checks the branch out again at the same path. Uncommitted
// content of the removed copy is not restored.
func (o *RemoveWorktreeOp) Rollback(ctx context.Context) error {
	if !o.removed || fsutil.Exists(o.Path) {
		return nil
	}
	if err := o.Git.AddWorktree(ctx, o.Root, o.Path, o.Branch, "", false); err != nil {
		return err
	}
	o.removed = false
	return nil
}

// DeleteBranchOp deletes a local branch. Failing to delete it only raises a
// warning, the worktree is already gone by then.
type DeleteBranchOp struct {
	Git    *git.Service
	Root   string
	Branch string
	Force  bool

	head    string
	deleted bool
	warning string
}

func (o *DeleteBranchOp) Kind() txn.Kind { return txn.KindDeleteBranch }

func (o *DeleteBranchOp) Describe() string {
	return fmt.Sprintf("Delete branch %s", o.Branch)
}

func (o *DeleteBranchOp) Execute(ctx context.Context) error {
	exists, err := o.Git.LocalBranchExists(o.Root, o.Branch)
	if err != nil {
		o.warning = err.Error()
		return nil
	}
	if !exists {
		o.warning = "branch does not exist"
		return nil
	}
	head, err := o.Git.BranchHead(o.Root, o.Branch)
	if err != nil {
		o.warning = err.Error()
		return nil
	}
	if err := o.Git.DeleteBranch(ctx, o.Root, o.Branch, o.Force); err != nil {
		o.warning = "branch kept: " + err.Error()
		return nil
	}
	o.head = head
	o.deleted = true
	return nil
}

// Rollback recreates the branch at the commit it pointed to.
func (o *DeleteBranchOp) Rollback(ctx context.Context) error {
	if !o.deleted {
		return nil
	}
	if err := o.Git.CreateBranch(ctx, o.Root, o.Branch, o.head); err != nil {
		return err
	}
	o.deleted = false
	return nil
}

func (o *DeleteBranchOp) Warning() string { return o.warning }

// Deleted reports whether the branch was deleted.
func (o *DeleteBranchOp) Deleted() bool { return o.deleted }
