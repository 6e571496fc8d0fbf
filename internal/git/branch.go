package git

import (
	"fmt"
	"regexp"
	"strings"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
)

// MaxBranchNameLength is the longest branch name accepted from users.
const MaxBranchNameLength = 100

// validBranchNameRegex matches valid git branch name characters.
// Git branch names cannot contain: space, ~, ^, :, ?, *, [, \, or control characters.
var validBranchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// ValidateBranchName checks that branch is usable as a git branch name.
func ValidateBranchName(branch string) error {
	reason := ""
	switch {
	case branch == "":
		reason = "branch name is required"
	case len(branch) > MaxBranchNameLength:
		reason = fmt.Sprintf("too long (max %d characters)", MaxBranchNameLength)
	case strings.HasPrefix(branch, "-"):
		reason = "cannot start with '-'"
	case strings.HasSuffix(branch, ".lock"):
		reason = "cannot end with '.lock'"
	case strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, "."):
		reason = "cannot end with '/' or '.'"
	case strings.Contains(branch, ".."):
		reason = "cannot contain '..'"
	case strings.Contains(branch, "//"):
		reason = "cannot contain '//'"
	case !validBranchNameRegex.MatchString(branch):
		reason = "contains invalid characters (use letters, numbers, /, _, ., -)"
	}
	if reason != "" {
		return wgerrors.InvalidBranch(branch, reason)
	}
	return nil
}

var slugCollapse = regexp.MustCompile(`-+`)

// Slug turns a branch name into the worktree identifier: lowercase, with
// '/', '_' and any other unsafe character replaced by '-'.
func Slug(branch string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, branch)
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-.")
}
