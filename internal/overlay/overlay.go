// Package overlay generates the compose override file of a worktree. The
// override only adds what differs per worktree (project name, host ports and
// container names) and is merged over the base file by docker compose. The
// base file is never opened for writing.
package overlay

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/workgarden/internal/compose"
	wgerrors "github.com/zhubert/workgarden/internal/errors"
	"github.com/zhubert/workgarden/internal/fsutil"
	"github.com/zhubert/workgarden/internal/logger"
	"github.com/zhubert/workgarden/internal/template"
)

// Marker starts every generated file. A file without it is hand-authored
// and is never overwritten.
const Marker = "# Generated by workgarden. Do not edit, changes are overwritten."

// Options controls generation.
type Options struct {
	// Project is the compose project name of the worktree.
	Project string
	// Slug suffixes declared container names.
	Slug string
	// Suffix is inserted before the extension of the base file name.
	Suffix string
	// NamedMappings names literal host ports.
	NamedMappings map[int]string
}

// Path returns the overlay path for a base compose file:
// docker-compose.yml becomes docker-compose.<suffix>.yml.
func Path(base, suffix string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + suffix + ext
}

// ProjectName derives an isolated compose project name. Compose accepts
// lowercase letters, digits, dashes and underscores, starting with a letter
// or digit.
func ProjectName(repo, slug string) string {
	raw := strings.ToLower(repo + "-" + slug)
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, raw)
	return strings.TrimLeft(name, "-_")
}

// Generate renders the overlay for base. Every managed port binding must
// resolve to a PORT_<NAME> entry of vars; a missing one fails the whole
// generation.
func Generate(base *compose.Document, vars template.Variables, opts Options) ([]byte, error) {
	op := wgerrors.Op("overlay.Generate")

	resolved := make(map[*compose.PortSpec]string)
	for _, b := range base.Bindings(opts.NamedMappings) {
		key := template.PortVariable(b.Name)
		port, ok := vars[key]
		if !ok {
			return nil, wgerrors.E(op, wgerrors.KindTemplate,
				fmt.Sprintf("service %s", b.Service), &template.UnknownVariableError{Name: key, Syntax: "{{VAR}}"})
		}
		resolved[b.Spec] = port
	}

	services := &yaml.Node{Kind: yaml.MappingNode}
	for _, svc := range base.Services {
		body := &yaml.Node{Kind: yaml.MappingNode}
		if svc.ContainerName != "" && opts.Slug != "" {
			body.Content = append(body.Content, scalar("container_name"), quoted(svc.ContainerName+"-"+opts.Slug))
		}

		managed := false
		ports := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!override"}
		for _, p := range svc.Ports {
			port, ok := resolved[p]
			if ok {
				managed = true
			}
			ports.Content = append(ports.Content, portEntry(p, port, ok))
		}
		if managed {
			body.Content = append(body.Content, scalar("ports"), ports)
		}

		if len(body.Content) > 0 {
			services.Content = append(services.Content, scalar(svc.Name), body)
		}
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	if opts.Project != "" {
		root.Content = append(root.Content, scalar("name"), scalar(opts.Project))
	}
	if len(services.Content) > 0 {
		root.Content = append(root.Content, scalar("services"), services)
	}

	var buf bytes.Buffer
	buf.WriteString(Marker + "\n")
	if base.Path != "" && opts.Suffix != "" {
		baseName := filepath.Base(base.Path)
		fmt.Fprintf(&buf, "# Use with: docker compose -f %s -f %s up\n", baseName, filepath.Base(Path(baseName, opts.Suffix)))
	}
	if len(root.Content) == 0 {
		return buf.Bytes(), nil
	}

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, wgerrors.E(op, wgerrors.KindIO, "encoding overlay", err)
	}
	if err := enc.Close(); err != nil {
		return nil, wgerrors.E(op, wgerrors.KindIO, "encoding overlay", err)
	}
	return buf.Bytes(), nil
}

// portEntry renders one entry of an overridden ports list. The override
// replaces the whole list, so unmanaged entries are carried over unchanged.
func portEntry(p *compose.PortSpec, port string, managed bool) *yaml.Node {
	if p.Long {
		entry := &yaml.Node{Kind: yaml.MappingNode}
		src := p.Node()
		for i := 0; i+1 < len(src.Content); i += 2 {
			key, val := src.Content[i], src.Content[i+1]
			if managed && key.Value == "published" {
				val = quoted(port)
			} else {
				val = clean(val)
			}
			entry.Content = append(entry.Content, scalar(key.Value), val)
		}
		return entry
	}

	if !managed {
		return quoted(p.Raw)
	}
	var b strings.Builder
	if p.HostIP != "" {
		b.WriteString(p.HostIP + ":")
	}
	b.WriteString(port + ":" + p.Container)
	if p.Protocol != "" {
		b.WriteString("/" + p.Protocol)
	}
	return quoted(b.String())
}

// clean copies a node without comments or anchors.
func clean(n *yaml.Node) *yaml.Node {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return clean(n.Alias)
	}
	c := &yaml.Node{Kind: n.Kind, Tag: n.Tag, Value: n.Value, Style: n.Style}
	for _, child := range n.Content {
		c.Content = append(c.Content, clean(child))
	}
	return c
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func quoted(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v, Style: yaml.DoubleQuotedStyle}
}

// WriteFile generates the overlay of the compose file at basePath and writes
// it to overlayPath. It reports whether the file content changed.
func WriteFile(basePath, overlayPath string, vars template.Variables, opts Options) (bool, error) {
	op := wgerrors.Op("overlay.WriteFile")
	log := logger.ComponentLogger("overlay")

	if samePath(basePath, overlayPath) {
		return false, wgerrors.E(op, wgerrors.KindValidation,
			fmt.Sprintf("overlay path %s is the base compose file", overlayPath))
	}

	base, err := compose.Load(basePath)
	if err != nil {
		return false, err
	}
	data, err := Generate(base, vars, opts)
	if err != nil {
		return false, err
	}

	existing, err := os.ReadFile(overlayPath)
	switch {
	case err == nil:
		if !IsGenerated(existing) {
			return false, wgerrors.E(op, wgerrors.KindValidation,
				fmt.Sprintf("%s exists and was not generated by workgarden", overlayPath),
				wgerrors.Hint("move the file away or choose another docker_compose.overlay_suffix"))
		}
		if bytes.Equal(existing, data) {
			log.Debug("overlay unchanged", "path", overlayPath)
			return false, nil
		}
	case !os.IsNotExist(err):
		return false, wgerrors.E(op, wgerrors.KindIO, fmt.Sprintf("reading %s", overlayPath), err)
	}

	if err := fsutil.AtomicWriteFile(overlayPath, data, 0o644); err != nil {
		return false, wgerrors.E(op, wgerrors.KindIO, fmt.Sprintf("writing %s", overlayPath), err)
	}
	log.Info("wrote overlay", "path", overlayPath, "base", basePath, "bytes", len(data))
	return true, nil
}

// IsGenerated reports whether data carries the generator marker.
func IsGenerated(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Marker))
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if absA == absB {
		return true
	}
	infoA, errA := os.Stat(absA)
	infoB, errB := os.Stat(absB)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}
