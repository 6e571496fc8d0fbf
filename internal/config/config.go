// Package config loads .workgarden.yaml, the per-repository description of
// how worktrees are laid out and provisioned.
package config

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/workgarden/internal/template"
)

// FileName is the configuration file at the main repository root.
const FileName = ".workgarden.yaml"

// Config is the top-level workgarden configuration.
type Config struct {
	Version          string              `yaml:"version"`
	WorktreeBasePath string              `yaml:"worktree_base_path"`
	WorktreeNaming   string              `yaml:"worktree_naming"`
	Environment      EnvironmentConfig   `yaml:"environment"`
	DockerCompose    DockerComposeConfig `yaml:"docker_compose"`
	AuxConfig        AuxConfig           `yaml:"aux_config"`
	Hooks            HooksConfig         `yaml:"hooks"`
	Editor           EditorConfig        `yaml:"editor"`
}

// EnvironmentConfig controls env file copying.
type EnvironmentConfig struct {
	CopyFiles     []EnvFile           `yaml:"copy_files"`
	Force         *bool               `yaml:"force"`
	Substitutions SubstitutionsConfig `yaml:"substitutions"`
}

// SubstitutionsConfig controls {{VAR}} substitution in copied env files.
type SubstitutionsConfig struct {
	Enabled         *bool             `yaml:"enabled"`
	CustomVariables map[string]string `yaml:"custom_variables"`
}

// EnvFile is a source/destination pair, both relative to their repository
// roots. In YAML it is either a single path or a {src, dst} mapping.
type EnvFile struct {
	Src string
	Dst string
}

// UnmarshalYAML implements yaml.Unmarshaler for EnvFile.
func (f *EnvFile) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		f.Src = value.Value
		f.Dst = value.Value
		return nil
	case yaml.MappingNode:
		var raw struct {
			Src string `yaml:"src"`
			Dst string `yaml:"dst"`
		}
		if err := value.Decode(&raw); err != nil {
			return err
		}
		f.Src = raw.Src
		f.Dst = raw.Dst
		if f.Dst == "" {
			f.Dst = f.Src
		}
		return nil
	}
	return fmt.Errorf("line %d: env file must be a path or a {src, dst} mapping", value.Line)
}

// MarshalYAML implements yaml.Marshaler for EnvFile.
func (f EnvFile) MarshalYAML() (any, error) {
	if f.Src == f.Dst {
		return f.Src, nil
	}
	return map[string]string{"src": f.Src, "dst": f.Dst}, nil
}

// DockerComposeConfig describes the compose files and port range.
type DockerComposeConfig struct {
	Files         []string    `yaml:"files"`
	OverlaySuffix string      `yaml:"overlay_suffix"`
	Ports         PortsConfig `yaml:"ports"`
}

// PortsConfig bounds port allocation.
type PortsConfig struct {
	BasePort    int `yaml:"base_port"`
	MaxPort     int `yaml:"max_port"`
	MaxAttempts int `yaml:"max_attempts"`
	// NamedMappings names literal host ports found in compose files,
	// e.g. 5432: DB.
	NamedMappings map[int]string `yaml:"named_mappings"`
}

// AuxConfig lists directories mirrored into every new worktree.
type AuxConfig struct {
	Dirs []string `yaml:"dirs"`
}

// HooksConfig holds the lifecycle hook lists.
type HooksConfig struct {
	PostCreate []HookConfig `yaml:"post_create"`
	PostSetup  []HookConfig `yaml:"post_setup"`
	PreRemove  []HookConfig `yaml:"pre_remove"`
	PostRemove []HookConfig `yaml:"post_remove"`
}

// HookConfig defines one hook command and an optional undo command run when
// the surrounding transaction rolls back.
type HookConfig struct {
	Run  string `yaml:"run"`
	Undo string `yaml:"undo,omitempty"`
}

// UnmarshalYAML accepts either a bare command string or a {run, undo} mapping.
func (h *HookConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		h.Run = value.Value
		return nil
	}
	type plain HookConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*h = HookConfig(p)
	return nil
}

// MarshalYAML writes hooks without undo as plain strings.
func (h HookConfig) MarshalYAML() (any, error) {
	if h.Undo == "" {
		return h.Run, nil
	}
	type plain HookConfig
	return plain(h), nil
}

// EditorConfig configures `wg open`.
type EditorConfig struct {
	Command  string `yaml:"command"`
	AutoOpen *bool  `yaml:"auto_open"`
}

// SubstitutionsEnabled reports whether env files get {{VAR}} substitution.
func (c *Config) SubstitutionsEnabled() bool {
	return boolValue(c.Environment.Substitutions.Enabled, true)
}

// ForceEnv reports whether existing env destinations may be overwritten.
func (c *Config) ForceEnv() bool {
	return boolValue(c.Environment.Force, false)
}

// AutoOpen reports whether a new worktree is opened in the editor.
func (c *Config) AutoOpen() bool {
	return boolValue(c.Editor.AutoOpen, false)
}

// WorktreePath resolves the directory of a worktree from the path templates.
// Relative base paths are taken relative to root.
func (c *Config) WorktreePath(root string, vars template.PathVariables) (string, error) {
	base, err := template.SubstitutePath(c.WorktreeBasePath, vars)
	if err != nil {
		return "", fmt.Errorf("worktree_base_path: %w", err)
	}
	name, err := template.SubstitutePath(c.WorktreeNaming, vars)
	if err != nil {
		return "", fmt.Errorf("worktree_naming: %w", err)
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(root, base)
	}
	return filepath.Clean(filepath.Join(base, name)), nil
}

// WorktreeBaseDir resolves the directory that holds all worktrees.
func (c *Config) WorktreeBaseDir(root string, vars template.PathVariables) (string, error) {
	base, err := template.SubstitutePath(c.WorktreeBasePath, vars)
	if err != nil {
		return "", fmt.Errorf("worktree_base_path: %w", err)
	}
	if !filepath.IsAbs(base) {
		base = filepath.Join(root, base)
	}
	return filepath.Clean(base), nil
}

// Marshal renders the config as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func boolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
