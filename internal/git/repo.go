package git

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	wgerrors "github.com/zhubert/workgarden/internal/errors"
)

func open(root string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(root, &gogit.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return nil, wgerrors.E(wgerrors.Op("git.open"), wgerrors.KindGit, fmt.Sprintf("opening %s", root), err)
	}
	return repo, nil
}

// LocalBranchExists reports whether refs/heads/<branch> exists.
func (s *Service) LocalBranchExists(root, branch string) (bool, error) {
	repo, err := open(root)
	if err != nil {
		return false, err
	}
	return refExists(repo, plumbing.NewBranchReferenceName(branch))
}

// BranchExists reports whether branch exists locally or on origin.
func (s *Service) BranchExists(root, branch string) (bool, error) {
	repo, err := open(root)
	if err != nil {
		return false, err
	}
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName("origin", branch),
	} {
		ok, err := refExists(repo, name)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func refExists(repo *gogit.Repository, name plumbing.ReferenceName) (bool, error) {
	_, err := repo.Reference(name, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wgerrors.E(wgerrors.Op("git.refExists"), wgerrors.KindGit, string(name), err)
	}
	return true, nil
}

// BranchHead returns the commit hash a local branch points at.
func (s *Service) BranchHead(root, branch string) (string, error) {
	repo, err := open(root)
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return "", wgerrors.E(wgerrors.Op("git.BranchHead"), wgerrors.KindGit, fmt.Sprintf("resolving %s", branch), err)
	}
	return ref.Hash().String(), nil
}

// RepoName derives the repository name from the origin URL, falling back
// to the directory name of root.
func (s *Service) RepoName(root string) string {
	fallback := filepath.Base(root)
	repo, err := open(root)
	if err != nil {
		return fallback
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return fallback
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return fallback
	}
	if name := nameFromURL(urls[0]); name != "" {
		return name
	}
	return fallback
}

// nameFromURL extracts "repo" from URLs such as
// git@github.com:org/repo.git or https://host/org/repo.
func nameFromURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if i := strings.LastIndexAny(url, "/:"); i >= 0 {
		url = url[i+1:]
	}
	return strings.TrimSuffix(url, ".git")
}
