package template

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestSubstitute(t *testing.T) {
	vars := Variables{"BRANCH": "feature/x", "PORT_WEB": "10000", "EMPTY": ""}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no placeholders", "plain text", "plain text"},
		{"single", "branch={{BRANCH}}", "branch=feature/x"},
		{"repeated", "{{PORT_WEB}}:{{PORT_WEB}}", "10000:10000"},
		{"inner spaces", "{{ PORT_WEB }}", "10000"},
		{"empty value is still a value", "x={{EMPTY}}", "x="},
		{"single braces untouched", "{BRANCH}", "{BRANCH}"},
		{"shell vars untouched", "${HOME}/bin", "${HOME}/bin"},
		{"unterminated braces untouched", "a {{ b", "a {{ b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Substitute(tt.in, vars)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSubstitute_ValuesAreNotRescanned(t *testing.T) {
	got, err := Substitute("x={{A}}", Variables{"A": "{{B}}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "x={{B}}" {
		t.Errorf("Substitute = %q, want %q", got, "x={{B}}")
	}
}

func TestSubstitute_UnknownVariable(t *testing.T) {
	got, err := Substitute("DATABASE_URL=postgres://localhost:{{PORT_DB}}/{{BRANCH}}", Variables{"BRANCH": "main"})
	if err == nil {
		t.Fatal("expected error for unknown variable")
	}
	if got != "" {
		t.Errorf("partial output must never be returned, got %q", got)
	}

	var unknown *UnknownVariableError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownVariableError, got %T", err)
	}
	if unknown.Name != "PORT_DB" {
		t.Errorf("Name = %q, want %q", unknown.Name, "PORT_DB")
	}
	if !strings.Contains(err.Error(), "{{PORT_DB}}") {
		t.Errorf("error %q should name the placeholder", err.Error())
	}
}

func TestSubstitute_MalformedTokens(t *testing.T) {
	vars := Variables{"WEB_PORT": "1", "DB": "2"}

	tests := []struct {
		in   string
		name string
	}{
		{"A={{WEB-PORT}}", "WEB-PORT"},
		{"A={{}}", ""},
		{"A={{ DB.HOST }}", "DB.HOST"},
		{"A={{1X}}", "1X"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Substitute(tt.in, vars)
			var unknown *UnknownVariableError
			if !errors.As(err, &unknown) {
				t.Fatalf("Substitute(%q) error = %v, want *UnknownVariableError", tt.in, err)
			}
			if unknown.Name != tt.name {
				t.Errorf("Name = %q, want %q", unknown.Name, tt.name)
			}
			if got != "" {
				t.Errorf("partial output must never be returned, got %q", got)
			}
		})
	}
}

func TestSubstitute_Totality(t *testing.T) {
	// Either every {{...}} token resolves or the call fails.
	inputs := []string{
		"{{A}}{{B}}",
		"{{A}}-{{C}}",
		"nothing",
		"{{C}}",
		"{{A-B}}",
		"{{}}",
		"{{ A.B }}",
		"{{{A}}}",
		"x={{ A }} y={{ b c }}",
	}
	vars := Variables{"A": "1", "B": "2"}
	for _, in := range inputs {
		out, err := Substitute(in, vars)
		if err != nil {
			if out != "" {
				t.Errorf("Substitute(%q) returned %q with error", in, out)
			}
			continue
		}
		if contentTokenPattern.MatchString(out) {
			t.Errorf("Substitute(%q) left an unresolved token in %q", in, out)
		}
	}
}

func TestReferences(t *testing.T) {
	got := References("{{PORT_WEB}} {{BRANCH}} {{PORT_WEB}} {{bad-name}}")
	if want := []string{"PORT_WEB", "BRANCH"}; !slices.Equal(got, want) {
		t.Errorf("References = %v, want %v", got, want)
	}
	if got := References("none"); len(got) != 0 {
		t.Errorf("References(none) = %v, want empty", got)
	}
}

func TestSubstitutePath(t *testing.T) {
	vars := PathVariables{RepoName: "shop", Branch: "feature/x", BranchSlug: "feature-x"}

	tests := []struct {
		in   string
		want string
	}{
		{"../{repo_name}-worktrees/{branch_slug}", "../shop-worktrees/feature-x"},
		{"{branch}", "feature/x"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		got, err := SubstitutePath(tt.in, vars)
		if err != nil {
			t.Fatalf("SubstitutePath(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("SubstitutePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	_, err := SubstitutePath("{repo}/{branch_slug}", vars)
	var unknown *UnknownVariableError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownVariableError, got %v", err)
	}
	if unknown.Name != "repo" {
		t.Errorf("Name = %q, want %q", unknown.Name, "repo")
	}
	if err.Error() != "unknown path variable {repo}" {
		t.Errorf("Error() = %q", err.Error())
	}

	for _, in := range []string{"{Branch}", "{}", "{branch-slug}"} {
		if _, err := SubstitutePath(in, vars); !errors.As(err, &unknown) {
			t.Errorf("SubstitutePath(%q) error = %v, want *UnknownVariableError", in, err)
		}
	}
}

func TestReserved(t *testing.T) {
	for _, name := range []string{"BRANCH", "BRANCH_SLUG", "WORKTREE_PATH", "REPO_NAME", "PORT_WEB", "PORT_"} {
		if !Reserved(name) {
			t.Errorf("Reserved(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"API_HOST", "PORTS", "branch"} {
		if Reserved(name) {
			t.Errorf("Reserved(%q) = true, want false", name)
		}
	}
}

func TestContext_Variables(t *testing.T) {
	ctx := NewContext("shop", "feature/x", "feature-x", "/w/feature-x", map[string]string{
		"API_HOST": "localhost",
		"BRANCH":   "shadowed",
	})
	ctx.SetPort("web", 10000)
	ctx.SetPort("DB", 10001)

	vars := ctx.Variables()
	want := map[string]string{
		"BRANCH":        "feature/x",
		"BRANCH_SLUG":   "feature-x",
		"WORKTREE_PATH": "/w/feature-x",
		"REPO_NAME":     "shop",
		"PORT_WEB":      "10000",
		"PORT_DB":       "10001",
		"API_HOST":      "localhost",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("vars[%s] = %q, want %q", k, vars[k], v)
		}
	}

	ctx.ClearPorts("web")
	if _, ok := ctx.Variables()["PORT_WEB"]; ok {
		t.Error("expected PORT_WEB to be cleared")
	}
}

func TestContext_Environ(t *testing.T) {
	ctx := NewContext("shop", "feature/x", "feature-x", "/w/feature-x", nil)
	ctx.SetPort("WEB", 30001)

	env := ctx.Environ()
	for _, want := range []string{
		"WG_BRANCH=feature/x",
		"WG_BRANCH_SLUG=feature-x",
		"WG_WORKTREE_PATH=/w/feature-x",
		"WG_REPO_NAME=shop",
		"WG_PORT_WEB=30001",
	} {
		if !slices.Contains(env, want) {
			t.Errorf("Environ missing %q: %v", want, env)
		}
	}
	if !slices.IsSorted(env) {
		t.Errorf("Environ not sorted: %v", env)
	}
}
