// Package template substitutes workgarden variables into paths, env files
// and hook commands.
//
// Two syntaxes coexist. {var} names a lowercase path variable (repo_name,
// branch, branch_slug) and is resolved while planning. {{VAR}} names an
// uppercase content variable and is resolved when files are written or hooks
// run, after ports have been allocated. An unknown name in either syntax is an
// error; the input is never returned partially substituted.
package template

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// EnvPrefix is prepended to every variable exported to hook processes.
const EnvPrefix = "WG_"

// Token patterns match any brace pair, well-formed or not, so a malformed
// placeholder is reported instead of left in the output.
var (
	contentTokenPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)
	pathTokenPattern    = regexp.MustCompile(`\{([^{}]*)\}`)
	contentNamePattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathNamePattern     = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// builtins are the content variables every run defines.
var builtins = []string{"BRANCH", "BRANCH_SLUG", "WORKTREE_PATH", "REPO_NAME"}

// Reserved reports whether name is a built-in content variable or falls in
// the PORT_ namespace.
func Reserved(name string) bool {
	return slices.Contains(builtins, name) || strings.HasPrefix(name, "PORT_")
}

// UnknownVariableError reports a placeholder with no value in the mapping.
type UnknownVariableError struct {
	Name   string
	Syntax string // "{{VAR}}" or "{var}"
}

func (e *UnknownVariableError) Error() string {
	if e.Syntax == "{var}" {
		return fmt.Sprintf("unknown path variable {%s}", e.Name)
	}
	return fmt.Sprintf("unknown variable {{%s}}", e.Name)
}

// Variables maps content variable names to their values.
type Variables map[string]string

// Substitute replaces every {{VAR}} in text. Inner whitespace is allowed
// around the name. Any {{...}} token that is not a defined variable fails the
// call, malformed names included. Substituted values are not rescanned.
func Substitute(text string, vars Variables) (string, error) {
	var missing *UnknownVariableError
	out := contentTokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		if missing != nil {
			return match
		}
		name := strings.TrimSpace(contentTokenPattern.FindStringSubmatch(match)[1])
		v, ok := vars[name]
		if !ok || !contentNamePattern.MatchString(name) {
			missing = &UnknownVariableError{Name: name, Syntax: "{{VAR}}"}
			return match
		}
		return v
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// References lists the distinct well-formed {{VAR}} names used in text, in
// order of first appearance.
func References(text string) []string {
	var names []string
	for _, m := range contentTokenPattern.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if contentNamePattern.MatchString(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names
}

// PathVariables are the values available to {var} path templates.
type PathVariables struct {
	RepoName   string
	Branch     string
	BranchSlug string
}

func (p PathVariables) lookup(name string) (string, bool) {
	switch name {
	case "repo_name":
		return p.RepoName, true
	case "branch":
		return p.Branch, true
	case "branch_slug":
		return p.BranchSlug, true
	}
	return "", false
}

// SubstitutePath replaces every {var} in a path template. As with
// Substitute, any brace token that is not a known path variable fails.
func SubstitutePath(text string, vars PathVariables) (string, error) {
	var missing *UnknownVariableError
	out := pathTokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		if missing != nil {
			return match
		}
		name := pathTokenPattern.FindStringSubmatch(match)[1]
		v, ok := vars.lookup(name)
		if !ok || !pathNamePattern.MatchString(name) {
			missing = &UnknownVariableError{Name: name, Syntax: "{var}"}
			return match
		}
		return v
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

// PortVariable returns the content variable name for a logical port name,
// e.g. "web" -> "PORT_WEB".
func PortVariable(name string) string {
	return "PORT_" + strings.ToUpper(name)
}

// Context accumulates the variables of one provisioning run. Operations
// that discover values (allocated ports) write to it, later operations read
// from it.
type Context struct {
	mu           sync.RWMutex
	repoName     string
	branch       string
	branchSlug   string
	worktreePath string
	ports        map[string]int
	custom       map[string]string
}

// NewContext creates a context for one branch.
func NewContext(repoName, branch, branchSlug, worktreePath string, custom map[string]string) *Context {
	return &Context{
		repoName:     repoName,
		branch:       branch,
		branchSlug:   branchSlug,
		worktreePath: worktreePath,
		ports:        make(map[string]int),
		custom:       maps.Clone(custom),
	}
}

// Path returns the path variables of the context.
func (c *Context) Path() PathVariables {
	return PathVariables{RepoName: c.repoName, Branch: c.branch, BranchSlug: c.branchSlug}
}

// SetPort records an allocated port under its logical name.
func (c *Context) SetPort(name string, port int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ports[strings.ToUpper(name)] = port
}

// ClearPorts forgets the given logical port names.
func (c *Context) ClearPorts(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range names {
		delete(c.ports, strings.ToUpper(n))
	}
}

// Ports returns a copy of the allocated ports keyed by upper-case logical name.
func (c *Context) Ports() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.ports)
}

// Variables returns the full content mapping. Built-in names win over
// custom variables; config validation rejects custom names that are Reserved.
func (c *Context) Variables() Variables {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vars := make(Variables, 4+len(c.ports)+len(c.custom))
	maps.Copy(vars, c.custom)
	for name, port := range c.ports {
		vars[PortVariable(name)] = strconv.Itoa(port)
	}
	vars["BRANCH"] = c.branch
	vars["BRANCH_SLUG"] = c.branchSlug
	vars["WORKTREE_PATH"] = c.worktreePath
	vars["REPO_NAME"] = c.repoName
	return vars
}

// Environ renders the context's variables as sorted WG_NAME=value entries.
func (c *Context) Environ() []string {
	return Environ(c.Variables())
}

// Environ renders vars as sorted WG_NAME=value entries.
func Environ(vars Variables) []string {
	env := make([]string, 0, len(vars))
	for name, value := range vars {
		env = append(env, EnvPrefix+strings.ToUpper(name)+"="+value)
	}
	sort.Strings(env)
	return env
}
