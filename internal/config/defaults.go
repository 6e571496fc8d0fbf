package config

import (
	"reflect"

	"dario.cat/mergo"
)

// Default values.
const (
	DefaultVersion       = "1.0"
	DefaultBasePath      = "../{repo_name}-worktrees"
	DefaultNaming        = "{branch_slug}"
	DefaultOverlaySuffix = "worktree"
	DefaultBasePort      = 10000
	DefaultMaxPort       = 65000
	DefaultMaxAttempts   = 32
)

// DefaultConfig returns the configuration used for any key the file omits.
func DefaultConfig() *Config {
	enabled := true
	force := false
	autoOpen := false

	return &Config{
		Version:          DefaultVersion,
		WorktreeBasePath: DefaultBasePath,
		WorktreeNaming:   DefaultNaming,
		Environment: EnvironmentConfig{
			CopyFiles: []EnvFile{{Src: ".env", Dst: ".env"}},
			Force:     &force,
			Substitutions: SubstitutionsConfig{
				Enabled:         &enabled,
				CustomVariables: map[string]string{},
			},
		},
		DockerCompose: DockerComposeConfig{
			Files:         []string{"docker-compose.yml"},
			OverlaySuffix: DefaultOverlaySuffix,
			Ports: PortsConfig{
				BasePort:      DefaultBasePort,
				MaxPort:       DefaultMaxPort,
				MaxAttempts:   DefaultMaxAttempts,
				NamedMappings: map[int]string{},
			},
		},
		AuxConfig: AuxConfig{
			Dirs: []string{".claude"},
		},
		Hooks: HooksConfig{
			PostCreate: []HookConfig{},
			PostSetup:  []HookConfig{},
			PreRemove:  []HookConfig{},
			PostRemove: []HookConfig{},
		},
		Editor: EditorConfig{
			AutoOpen: &autoOpen,
		},
	}
}

// Merge fills in missing values in partial from defaults and returns the
// result. partial takes precedence. A list that is absent from the file takes
// the default; a list written as [] stays empty. Optional booleans are
// pointers so an explicit false is kept.
func Merge(partial, defaults *Config) (*Config, error) {
	result := *partial
	if err := mergo.Merge(&result, *defaults,
		mergo.WithoutDereference,
		mergo.WithTransformers(nilSliceTransformer{}),
	); err != nil {
		return nil, err
	}
	return &result, nil
}

// nilSliceTransformer only fills slices that were never set.
type nilSliceTransformer struct{}

func (nilSliceTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ.Kind() != reflect.Slice {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if dst.CanSet() && dst.IsNil() {
			dst.Set(src)
		}
		return nil
	}
}
