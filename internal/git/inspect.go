package git

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// BranchInfo describes a local branch.
type BranchInfo struct {
	Name    string
	Hash    string
	Subject string
	When    time.Time
	Current bool
}

// openRepo opens the repository containing path.
func openRepo(path string) (*gogit.Repository, error) {
	return gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
}

// IsRepository reports whether path is inside a git repository.
func IsRepository(path string) bool {
	_, err := openRepo(path)
	return err == nil
}

// HeadBranch returns the branch checked out at path.
// Returns an empty string for a detached HEAD or an unborn branch.
func HeadBranch(path string) (string, error) {
	repo, err := openRepo(path)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// ListBranches returns local branches whose names start with prefix,
// sorted by name. An empty prefix lists every branch.
func ListBranches(path, prefix string) ([]BranchInfo, error) {
	repo, err := openRepo(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	current, _ := HeadBranch(path)

	iter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Close()

	var branches []BranchInfo
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}

		info := BranchInfo{
			Name:    name,
			Hash:    ref.Hash().String()[:7],
			Current: name == current,
		}
		if commit, err := repo.CommitObject(ref.Hash()); err == nil {
			info.Subject = firstLine(commit.Message)
			info.When = commit.Author.When
		}
		branches = append(branches, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate branches: %w", err)
	}

	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
