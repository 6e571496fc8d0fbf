// Package compose reads docker compose declarations to find the host ports a
// worktree has to remap. Documents are only ever read; nothing here writes a
// compose file.
package compose

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
)

// placeholderPattern matches ${NAME}, ${NAME:-default} and ${NAME-default}.
var placeholderPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)(?::?-([^}]*))?\}$`)

// Document is a parsed compose file.
type Document struct {
	Path     string
	Name     string // top-level project name, if declared
	Services []*Service // declaration order
}

// Service is one entry under services.
type Service struct {
	Name          string
	ContainerName string
	Ports         []*PortSpec
}

// PortSpec is one entry of a service's ports list.
type PortSpec struct {
	Index     int
	Long      bool   // long (mapping) syntax
	Raw       string // short syntax as written
	HostIP    string
	Host      string // host part as written, "" for container-only entries
	Variable  string // variable name when Host is a ${...} placeholder
	Default   string // placeholder default
	Literal   int    // literal host port, 0 otherwise
	Container string // container port, may include a range
	Protocol  string

	node *yaml.Node
}

// Managed reports whether the entry binds a single host port that a
// worktree has to remap.
func (p *PortSpec) Managed() bool {
	return p.Variable != "" || p.Literal > 0
}

// Node returns the original YAML node of the entry.
func (p *PortSpec) Node() *yaml.Node {
	return p.node
}

// Load parses the compose file at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("compose.Load"), wgerrors.KindIO, fmt.Sprintf("reading %s", path), err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("compose.Load"), wgerrors.KindConfig, fmt.Sprintf("parsing %s", path), err)
	}
	doc.Path = path
	return doc, nil
}

// Parse parses compose YAML.
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return doc, nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: compose file must be a mapping", top.Line)
	}

	if n := mappingValue(top, "name"); n != nil && n.Kind == yaml.ScalarNode {
		doc.Name = n.Value
	}

	services := mappingValue(top, "services")
	if services == nil {
		return doc, nil
	}
	if services.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: services must be a mapping", services.Line)
	}

	for i := 0; i+1 < len(services.Content); i += 2 {
		svc, err := parseService(services.Content[i].Value, services.Content[i+1])
		if err != nil {
			return nil, err
		}
		doc.Services = append(doc.Services, svc)
	}
	return doc, nil
}

func parseService(name string, node *yaml.Node) (*Service, error) {
	svc := &Service{Name: name}
	if node.Kind != yaml.MappingNode {
		// e.g. "web:" with no body
		return svc, nil
	}
	if n := mappingValue(node, "container_name"); n != nil && n.Kind == yaml.ScalarNode {
		svc.ContainerName = n.Value
	}
	ports := mappingValue(node, "ports")
	if ports == nil {
		return svc, nil
	}
	if ports.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: services.%s.ports must be a list", ports.Line, name)
	}
	for i, entry := range ports.Content {
		var spec *PortSpec
		var err error
		switch entry.Kind {
		case yaml.ScalarNode:
			spec, err = parseShort(entry.Value)
		case yaml.MappingNode:
			spec, err = parseLong(entry)
		default:
			err = fmt.Errorf("unsupported port entry")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: services.%s.ports[%d]: %w", entry.Line, name, i, err)
		}
		spec.Index = i
		spec.node = entry
		svc.Ports = append(svc.Ports, spec)
	}
	return svc, nil
}

// parseShort parses "[[ip:]host:]container[/proto]". Placeholders may
// contain ':' themselves, so they are masked before splitting.
func parseShort(raw string) (*PortSpec, error) {
	spec := &PortSpec{Raw: raw}
	s := strings.TrimSpace(raw)

	if i := strings.LastIndex(s, "/"); i >= 0 && !strings.Contains(s[i:], "}") {
		spec.Protocol = s[i+1:]
		s = s[:i]
	}

	var masked []string
	var b strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "${") {
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder in %q", raw)
			}
			fmt.Fprintf(&b, "\x00%d\x00", len(masked))
			masked = append(masked, s[i:i+end+1])
			i += end + 1
			continue
		}
		if s[i] == '[' {
			// bracketed IPv6 host ip
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated IPv6 address in %q", raw)
			}
			fmt.Fprintf(&b, "\x00%d\x00", len(masked))
			masked = append(masked, s[i:i+end+1])
			i += end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}

	unmask := func(part string) string {
		for idx, m := range masked {
			part = strings.ReplaceAll(part, fmt.Sprintf("\x00%d\x00", idx), m)
		}
		return part
	}

	parts := strings.Split(b.String(), ":")
	switch len(parts) {
	case 1:
		spec.Container = unmask(parts[0])
	case 2:
		spec.Host = unmask(parts[0])
		spec.Container = unmask(parts[1])
	case 3:
		spec.HostIP = unmask(parts[0])
		spec.Host = unmask(parts[1])
		spec.Container = unmask(parts[2])
	default:
		return nil, fmt.Errorf("cannot parse port %q", raw)
	}
	if spec.Container == "" {
		return nil, fmt.Errorf("missing container port in %q", raw)
	}
	classifyHost(spec)
	return spec, nil
}

func parseLong(node *yaml.Node) (*PortSpec, error) {
	spec := &PortSpec{Long: true}
	if n := mappingValue(node, "target"); n != nil {
		spec.Container = n.Value
	}
	if spec.Container == "" {
		return nil, fmt.Errorf("long port syntax requires target")
	}
	if n := mappingValue(node, "published"); n != nil {
		spec.Host = n.Value
	}
	if n := mappingValue(node, "host_ip"); n != nil {
		spec.HostIP = n.Value
	}
	if n := mappingValue(node, "protocol"); n != nil {
		spec.Protocol = n.Value
	}
	classifyHost(spec)
	return spec, nil
}

func classifyHost(spec *PortSpec) {
	if spec.Host == "" {
		return
	}
	if m := placeholderPattern.FindStringSubmatch(spec.Host); m != nil {
		spec.Variable = m[1]
		spec.Default = m[2]
		return
	}
	if n, err := strconv.Atoi(spec.Host); err == nil && n > 0 && n <= 65535 {
		spec.Literal = n
	}
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
