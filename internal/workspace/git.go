package workspace

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

// discoverGit lists the files under root as recorded in the commit named by
// the configured git ref. The working tree is not consulted, so uncommitted
// edits and .gitignore patterns do not apply.
func (l *Loader) discoverGit(root string) ([]source, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open git repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to open worktree: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(l.cfg.GitRef))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve revision %q: %w", l.cfg.GitRef, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of commit %s: %w", hash, err)
	}

	// Repository paths are relative to the worktree; scan paths stay relative to root.
	prefix, err := filepath.Rel(wt.Filesystem.Root(), abs)
	if err != nil {
		return nil, err
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	} else {
		prefix += "/"
	}
	l.logger.Debug("Reading sources from git.",
		zap.String("root", root),
		zap.String("commit", hash.String()),
		zap.String("prefix", prefix))

	base := filepath.ToSlash(filepath.Clean(root))
	var out []source
	err = tree.Files().ForEach(func(f *object.File) error {
		if !strings.HasPrefix(f.Name, prefix) {
			return nil
		}
		rel := strings.TrimPrefix(f.Name, prefix)
		if !l.accept(rel, nil) {
			return nil
		}
		file := f
		out = append(out, source{
			path: path.Clean(path.Join(base, rel)),
			read: func() ([]byte, error) {
				contents, err := file.Contents()
				if err != nil {
					return nil, err
				}
				return []byte(contents), nil
			},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree of commit %s: %w", hash, err)
	}
	return out, nil
}
