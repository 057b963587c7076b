// Package corpus keeps the local document mirror in sync with its remote
// repository and re-registers it with the answering service.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

var ErrSync = errors.New("corpus sync failed")

// GitSyncer mirrors a remote repository into a local directory: clone when
// the directory is not a repository, pull otherwise, and clone from scratch
// when the pull cannot be applied.
type GitSyncer struct {
	url    string
	path   string
	auth   transport.AuthMethod
	logger *slog.Logger
}

func NewGitSyncer(url, path, token string, logger *slog.Logger) *GitSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	var auth transport.AuthMethod
	if token = strings.TrimSpace(token); token != "" {
		auth = &githttp.BasicAuth{Username: "git", Password: token}
	}
	return &GitSyncer{
		url:    strings.TrimSpace(url),
		path:   path,
		auth:   auth,
		logger: logger,
	}
}

func (g *GitSyncer) Sync(ctx context.Context) error {
	if g.url == "" {
		g.logger.Info("corpus_sync_skipped", "reason", "no_repo_url", "path", g.path)
		return nil
	}
	g.logger.Info("corpus_sync_start", "url", g.url, "path", g.path)

	if _, err := os.Stat(filepath.Join(g.path, ".git")); err != nil {
		if err := g.clone(ctx); err != nil {
			return err
		}
		g.logger.Info("corpus_sync_ok", "mode", "clone")
		return nil
	}

	err := g.pull(ctx)
	switch {
	case err == nil:
		g.logger.Info("corpus_sync_ok", "mode", "pull")
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		g.logger.Info("corpus_sync_ok", "mode", "up_to_date")
		return nil
	case needsReclone(err):
		g.logger.Warn("corpus_pull_failed_recloning", "error", err.Error())
		if err := g.clone(ctx); err != nil {
			return err
		}
		g.logger.Info("corpus_sync_ok", "mode", "reclone")
		return nil
	default:
		return fmt.Errorf("%w: pull %s: %v", ErrSync, g.url, err)
	}
}

func (g *GitSyncer) clone(ctx context.Context) error {
	if err := os.RemoveAll(g.path); err != nil {
		return fmt.Errorf("%w: clear %s: %v", ErrSync, g.path, err)
	}
	_, err := git.PlainCloneContext(ctx, g.path, false, &git.CloneOptions{
		URL:  g.url,
		Auth: g.auth,
	})
	if err != nil {
		return fmt.Errorf("%w: clone %s: %v", ErrSync, g.url, err)
	}
	return nil
}

func (g *GitSyncer) pull(ctx context.Context) error {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.PullContext(ctx, &git.PullOptions{
		RemoteName: "origin",
		Auth:       g.auth,
	})
}

func needsReclone(err error) bool {
	return errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		errors.Is(err, git.ErrNonFastForwardUpdate) ||
		errors.Is(err, git.ErrUnstagedChanges) ||
		errors.Is(err, git.ErrRepositoryNotExists)
}
