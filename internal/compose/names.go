package compose

import (
	"os"
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
)

// Binding ties a managed port entry to its logical port name.
type Binding struct {
	Name    string
	Service string
	Spec    *PortSpec
}

// Bindings resolves the logical name of every managed port entry, in
// service order then declaration order.
//
// A ${WEB_PORT} placeholder is named WEB; other placeholders keep their
// variable name. A literal host port is named through named, falling back to
// the service name (suffixed with the container port when the service
// publishes several unnamed literals).
func (d *Document) Bindings(named map[int]string) []Binding {
	var out []Binding
	for _, svc := range d.Services {
		unnamed := 0
		for _, p := range svc.Ports {
			if p.Variable == "" && p.Literal > 0 && named[p.Literal] == "" {
				unnamed++
			}
		}
		for _, p := range svc.Ports {
			if !p.Managed() {
				continue
			}
			out = append(out, Binding{Name: logicalName(svc.Name, p, named, unnamed), Service: svc.Name, Spec: p})
		}
	}
	return out
}

func logicalName(service string, p *PortSpec, named map[int]string, unnamed int) string {
	if p.Variable != "" {
		name := strings.ToUpper(p.Variable)
		if trimmed := strings.TrimSuffix(name, "_PORT"); trimmed != "" && trimmed != name {
			return trimmed
		}
		return name
	}
	if n := named[p.Literal]; n != "" {
		return strings.ToUpper(n)
	}
	name := sanitize(service)
	if unnamed > 1 {
		name += "_" + sanitize(strings.SplitN(p.Container, "-", 2)[0])
	}
	return name
}

func sanitize(s string) string {
	s = strings.ToUpper(s)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

// Names returns the distinct logical port names across docs, in first-seen
// order. The same name used by several services is one port.
func Names(docs []*Document, named map[int]string) []string {
	set := linkedhashset.New()
	for _, d := range docs {
		for _, b := range d.Bindings(named) {
			set.Add(b.Name)
		}
	}
	names := make([]string, 0, set.Size())
	for _, v := range set.Values() {
		names = append(names, v.(string))
	}
	return names
}

// LoadAll parses the compose files that exist among paths. Missing files
// are skipped.
func LoadAll(paths []string) ([]*Document, error) {
	var docs []*Document
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		doc, err := Load(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
