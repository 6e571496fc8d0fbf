package config

import (
	"bytes"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
)

// Path returns the config file path for a repository root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Load reads and parses .workgarden.yaml from the given repository root.
// Returns nil, nil if the file does not exist.
func Load(root string) (*Config, error) {
	fp := Path(root)

	data, err := os.ReadFile(fp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wgerrors.ConfigLoadFailed(fp, err)
	}

	var cfg Config
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, wgerrors.ConfigLoadFailed(fp, err)
	}
	return &cfg, nil
}

// LoadAndMerge loads the config, fills defaults and validates the result.
// A missing file is an error pointing at `wg config init`.
func LoadAndMerge(root string) (*Config, error) {
	cfg, err := Load(root)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, wgerrors.ConfigNotFound(Path(root))
	}

	merged, err := Merge(cfg, DefaultConfig())
	if err != nil {
		return nil, wgerrors.ConfigLoadFailed(Path(root), err)
	}
	if errs := Validate(merged); len(errs) > 0 {
		return nil, wgerrors.ConfigInvalid(errs[0].Error())
	}
	return merged, nil
}
