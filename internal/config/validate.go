package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zhubert/workgarden/internal/template"
)

var (
	variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	portNamePattern     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)
)

// ValidationError describes a single validation problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a merged Config for errors and returns all problems found.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	sample := template.PathVariables{RepoName: "repo", Branch: "branch", BranchSlug: "branch"}
	if cfg.WorktreeBasePath == "" {
		errs = append(errs, ValidationError{Field: "worktree_base_path", Message: "must not be empty"})
	} else if _, err := template.SubstitutePath(cfg.WorktreeBasePath, sample); err != nil {
		errs = append(errs, ValidationError{Field: "worktree_base_path", Message: err.Error()})
	}
	if cfg.WorktreeNaming == "" {
		errs = append(errs, ValidationError{Field: "worktree_naming", Message: "must not be empty"})
	} else if _, err := template.SubstitutePath(cfg.WorktreeNaming, sample); err != nil {
		errs = append(errs, ValidationError{Field: "worktree_naming", Message: err.Error()})
	} else if strings.Contains(cfg.WorktreeNaming, "..") {
		errs = append(errs, ValidationError{Field: "worktree_naming", Message: "must not contain '..'"})
	}

	for i, f := range cfg.Environment.CopyFiles {
		field := fmt.Sprintf("environment.copy_files[%d]", i)
		if f.Src == "" {
			errs = append(errs, ValidationError{Field: field, Message: "src is required"})
			continue
		}
		if !isRelativeInside(f.Dst) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("dst %q must be a relative path inside the worktree", f.Dst)})
		}
	}
	for name := range cfg.Environment.Substitutions.CustomVariables {
		if !variableNamePattern.MatchString(name) {
			errs = append(errs, ValidationError{
				Field:   "environment.substitutions.custom_variables",
				Message: fmt.Sprintf("invalid variable name %q", name),
			})
		} else if template.Reserved(name) {
			errs = append(errs, ValidationError{
				Field:   "environment.substitutions.custom_variables",
				Message: fmt.Sprintf("%q is a built-in variable and cannot be redefined", name),
			})
		}
	}

	for i, f := range cfg.DockerCompose.Files {
		if f == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("docker_compose.files[%d]", i), Message: "must not be empty"})
		}
	}
	if s := cfg.DockerCompose.OverlaySuffix; s == "" || strings.ContainsAny(s, `/\`) {
		errs = append(errs, ValidationError{Field: "docker_compose.overlay_suffix", Message: "must be a non-empty name without path separators"})
	}

	ports := cfg.DockerCompose.Ports
	if ports.BasePort < 1 || ports.BasePort > 65535 {
		errs = append(errs, ValidationError{Field: "docker_compose.ports.base_port", Message: fmt.Sprintf("%d is outside 1-65535", ports.BasePort)})
	}
	if ports.MaxPort < 1 || ports.MaxPort > 65535 {
		errs = append(errs, ValidationError{Field: "docker_compose.ports.max_port", Message: fmt.Sprintf("%d is outside 1-65535", ports.MaxPort)})
	}
	if ports.MaxPort < ports.BasePort {
		errs = append(errs, ValidationError{Field: "docker_compose.ports.max_port", Message: "must not be lower than base_port"})
	}
	if ports.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "docker_compose.ports.max_attempts", Message: "must be at least 1"})
	}
	for port, name := range ports.NamedMappings {
		if port < 1 || port > 65535 {
			errs = append(errs, ValidationError{Field: "docker_compose.ports.named_mappings", Message: fmt.Sprintf("invalid port %d", port)})
		}
		if !portNamePattern.MatchString(name) {
			errs = append(errs, ValidationError{Field: "docker_compose.ports.named_mappings", Message: fmt.Sprintf("invalid port name %q", name)})
		}
	}

	for i, d := range cfg.AuxConfig.Dirs {
		if !isRelativeInside(d) {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("aux_config.dirs[%d]", i), Message: fmt.Sprintf("%q must be a relative path inside the repository", d)})
		}
	}

	errs = append(errs, validateHooks("hooks.post_create", cfg.Hooks.PostCreate, true)...)
	errs = append(errs, validateHooks("hooks.post_setup", cfg.Hooks.PostSetup, true)...)
	errs = append(errs, validateHooks("hooks.pre_remove", cfg.Hooks.PreRemove, false)...)
	errs = append(errs, validateHooks("hooks.post_remove", cfg.Hooks.PostRemove, false)...)

	return errs
}

func validateHooks(field string, hooks []HookConfig, undoAllowed bool) []ValidationError {
	var errs []ValidationError
	for i, h := range hooks {
		f := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(h.Run) == "" {
			errs = append(errs, ValidationError{Field: f, Message: "run command is required"})
		}
		if h.Undo != "" && !undoAllowed {
			errs = append(errs, ValidationError{Field: f, Message: "undo is not supported for removal hooks"})
		}
	}
	return errs
}

func isRelativeInside(p string) bool {
	if p == "" || filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
