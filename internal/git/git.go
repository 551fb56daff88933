// Package git materializes the pipeline's source working copy using go-git.
package git

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Checkout clones repoURL into dest and positions the working copy at ref.
// An empty ref means the remote default branch, fetched shallowly. A non-empty
// ref may be a branch, tag, or commit and requires full history to resolve.
func Checkout(ctx context.Context, repoURL, ref, dest string) error {
	if strings.TrimSpace(repoURL) == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("destination cannot be empty")
	}

	if ref == "" {
		_, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
			URL:          repoURL,
			Depth:        1,
			SingleBranch: true,
		})
		if err != nil {
			return fmt.Errorf("clone %s: %w", repoURL, err)
		}
		return nil
	}

	repo, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL: repoURL,
	})
	if err != nil {
		return fmt.Errorf("clone %s: %w", repoURL, err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return fmt.Errorf("resolve ref %q: %w", ref, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&gogit.CheckoutOptions{Hash: *hash}); err != nil {
		return fmt.Errorf("checkout %s: %w", hash.String(), err)
	}
	return nil
}
