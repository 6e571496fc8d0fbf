package compose

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const sampleCompose = `
name: shop
services:
  web:
    image: nginx
    container_name: shop-web
    ports:
      - "${WEB_PORT:-3000}:80"
      - "9229"
  db:
    image: postgres
    ports:
      - "127.0.0.1:${DB_PORT}:5432/tcp"
  cache:
    image: redis
    ports:
      - target: 6379
        published: 6379
        protocol: tcp
  worker:
    image: busybox
`

func mustParse(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := Parse([]byte(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return doc
}

func bindingNames(bindings []Binding) []string {
	var names []string
	for _, b := range bindings {
		names = append(names, b.Name)
	}
	return names
}

func TestParse(t *testing.T) {
	doc := mustParse(t, sampleCompose)

	if doc.Name != "shop" {
		t.Errorf("Name = %q, want %q", doc.Name, "shop")
	}
	if len(doc.Services) != 4 {
		t.Fatalf("expected 4 services, got %d", len(doc.Services))
	}
	var order []string
	for _, svc := range doc.Services {
		order = append(order, svc.Name)
	}
	if want := []string{"web", "db", "cache", "worker"}; !slices.Equal(order, want) {
		t.Errorf("service order = %v, want declaration order %v", order, want)
	}

	web := doc.Services[0]
	if web.ContainerName != "shop-web" {
		t.Errorf("ContainerName = %q, want %q", web.ContainerName, "shop-web")
	}
	if len(web.Ports) != 2 {
		t.Fatalf("expected 2 web ports, got %d", len(web.Ports))
	}
	if web.Ports[0].Variable != "WEB_PORT" || web.Ports[0].Default != "3000" || web.Ports[0].Container != "80" {
		t.Errorf("web port = %+v, want WEB_PORT default 3000 container 80", web.Ports[0])
	}
	if !web.Ports[0].Managed() {
		t.Error("expected placeholder port to be managed")
	}
	if web.Ports[1].Managed() {
		t.Error("container-only entries are not remapped")
	}

	db := doc.Services[1].Ports[0]
	if db.HostIP != "127.0.0.1" || db.Variable != "DB_PORT" || db.Container != "5432" || db.Protocol != "tcp" {
		t.Errorf("db port = %+v", db)
	}

	cache := doc.Services[2].Ports[0]
	if !cache.Long {
		t.Error("expected long syntax for cache port")
	}
	if cache.Literal != 6379 {
		t.Errorf("Literal = %d, want 6379", cache.Literal)
	}

	if len(doc.Services[3].Ports) != 0 {
		t.Errorf("expected worker without ports, got %v", doc.Services[3].Ports)
	}
}

func TestParseShort(t *testing.T) {
	tests := []struct {
		raw       string
		hostIP    string
		host      string
		variable  string
		literal   int
		container string
		protocol  string
	}{
		{raw: "80", container: "80"},
		{raw: "8080:80", host: "8080", literal: 8080, container: "80"},
		{raw: "${WEB}:80", host: "${WEB}", variable: "WEB", container: "80"},
		{raw: "${WEB-8080}:80/udp", host: "${WEB-8080}", variable: "WEB", container: "80", protocol: "udp"},
		{raw: "0.0.0.0:${API_PORT:-4000}:4000", hostIP: "0.0.0.0", host: "${API_PORT:-4000}", variable: "API_PORT", container: "4000"},
		{raw: "[::1]:8080:80", hostIP: "[::1]", host: "8080", literal: 8080, container: "80"},
		{raw: "9000-9005:9000-9005", host: "9000-9005", container: "9000-9005"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := parseShort(tt.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if spec.HostIP != tt.hostIP {
				t.Errorf("HostIP = %q, want %q", spec.HostIP, tt.hostIP)
			}
			if spec.Host != tt.host {
				t.Errorf("Host = %q, want %q", spec.Host, tt.host)
			}
			if spec.Variable != tt.variable {
				t.Errorf("Variable = %q, want %q", spec.Variable, tt.variable)
			}
			if spec.Literal != tt.literal {
				t.Errorf("Literal = %d, want %d", spec.Literal, tt.literal)
			}
			if spec.Container != tt.container {
				t.Errorf("Container = %q, want %q", spec.Container, tt.container)
			}
			if spec.Protocol != tt.protocol {
				t.Errorf("Protocol = %q, want %q", spec.Protocol, tt.protocol)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"not a mapping":       "- a\n- b\n",
		"services list":       "services: [a]\n",
		"ports mapping":       "services:\n  web:\n    ports: {a: b}\n",
		"long without target": "services:\n  web:\n    ports:\n      - published: 80\n",
		"unterminated":        "services:\n  web:\n    ports: [\"${WEB:80\"]\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	doc := mustParse(t, "")
	if len(doc.Services) != 0 {
		t.Errorf("expected no services, got %d", len(doc.Services))
	}
}

func TestBindings(t *testing.T) {
	doc := mustParse(t, sampleCompose)

	if got, want := bindingNames(doc.Bindings(nil)), []string{"WEB", "DB", "CACHE"}; !slices.Equal(got, want) {
		t.Errorf("Bindings names = %v, want %v", got, want)
	}

	bindings := doc.Bindings(map[int]string{6379: "redis"})
	if got := bindings[len(bindings)-1].Name; got != "REDIS" {
		t.Errorf("named mapping = %q, want %q", got, "REDIS")
	}
}

func TestBindings_SeveralUnnamedLiterals(t *testing.T) {
	doc := mustParse(t, `
services:
  app:
    ports:
      - "8080:80"
      - "8443:443"
      - "${DEBUG_PORT}:9229"
`)

	if got, want := bindingNames(doc.Bindings(nil)), []string{"APP_80", "APP_443", "DEBUG"}; !slices.Equal(got, want) {
		t.Errorf("Bindings names = %v, want %v", got, want)
	}
}

func TestNames_FollowDeclarationOrder(t *testing.T) {
	doc := mustParse(t, `
services:
  web:
    ports: ["${WEB_PORT}:80"]
  db:
    ports: ["${DB_PORT}:5432"]
`)

	if got, want := Names([]*Document{doc}, nil), []string{"WEB", "DB"}; !slices.Equal(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestNames_DeduplicatesInOrder(t *testing.T) {
	a := mustParse(t, `
services:
  web:
    ports: ["${WEB_PORT}:80"]
  api:
    ports: ["${API_PORT}:80", "${WEB_PORT}:8080"]
`)
	b := mustParse(t, `
services:
  db:
    ports: ["${DB_PORT}:5432", "${API_PORT}:81"]
`)

	if got, want := Names([]*Document{a, b}, nil), []string{"WEB", "API", "DB"}; !slices.Equal(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
}

func TestLoadAll_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "docker-compose.yml")
	if err := os.WriteFile(present, []byte(sampleCompose), 0o644); err != nil {
		t.Fatalf("failed to write compose file: %v", err)
	}

	docs, err := LoadAll([]string{present, filepath.Join(dir, "missing.yml")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].Path != present {
		t.Errorf("Path = %q, want %q", docs[0].Path, present)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "docker-compose.yml")
	if err := os.WriteFile(p, []byte("services: ["), 0o644); err != nil {
		t.Fatalf("failed to write compose file: %v", err)
	}

	if _, err := Load(p); err == nil {
		t.Error("expected error for invalid YAML")
	}
}
