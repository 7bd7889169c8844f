package git

import (
	"context"
	"fmt"
	"path/filepath"
)

// InitBare creates a bare repository at path.
func InitBare(ctx context.Context, path string) (*Repository, error) {
	parent := NewRepository(filepath.Dir(path))
	if _, err := parent.Run(ctx, "init", "--bare", path); err != nil {
		return nil, fmt.Errorf("failed to create bare repository: %w", err)
	}
	return NewRepository(path), nil
}

// Clone clones source into dest and returns the new work tree.
func Clone(ctx context.Context, source, dest string) (*Repository, error) {
	parent := NewRepository(filepath.Dir(dest))
	if _, err := parent.Run(ctx, "clone", "--quiet", source, dest); err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", source, err)
	}
	return NewRepository(dest), nil
}

// Push pushes the current branch to remote under the same name.
func (r *Repository) Push(ctx context.Context, remote string) error {
	if _, err := r.Run(ctx, "push", "--quiet", remote, "HEAD"); err != nil {
		return fmt.Errorf("failed to push to %s: %w", remote, err)
	}
	return nil
}

// SubmoduleAdd links url into the work tree at path. Local paths need the
// file transport, which recent git versions refuse for submodules unless it
// is allowed explicitly.
func (r *Repository) SubmoduleAdd(ctx context.Context, url, path string) error {
	if _, err := r.WithConfig("protocol.file.allow", "always").Run(ctx, "submodule", "add", "--quiet", url, path); err != nil {
		return fmt.Errorf("failed to add submodule %s: %w", path, err)
	}
	return nil
}

// SubmoduleSync propagates .gitmodules settings into the local config.
func (r *Repository) SubmoduleSync(ctx context.Context) error {
	if _, err := r.Run(ctx, "submodule", "sync", "--quiet"); err != nil {
		return fmt.Errorf("failed to sync submodules: %w", err)
	}
	return nil
}

// SubmoduleDeinit unregisters the submodule at path, discarding its work tree.
func (r *Repository) SubmoduleDeinit(ctx context.Context, path string) error {
	if _, err := r.Run(ctx, "submodule", "deinit", "--force", "--quiet", "--", path); err != nil {
		return fmt.Errorf("failed to deinit submodule %s: %w", path, err)
	}
	return nil
}

// RemoveCached unstages path without touching the work tree.
func (r *Repository) RemoveCached(ctx context.Context, path string) error {
	if _, err := r.Run(ctx, "rm", "--cached", "-r", "--quiet", "--ignore-unmatch", "--", path); err != nil {
		return fmt.Errorf("failed to unstage %s: %w", path, err)
	}
	return nil
}

// ConfigFileSet writes key=value into the config file at file (relative to
// the working dir), as "git config -f" does.
func (r *Repository) ConfigFileSet(ctx context.Context, file, key, value string) error {
	if _, err := r.Run(ctx, "config", "-f", file, key, value); err != nil {
		return fmt.Errorf("failed to set %s in %s: %w", key, file, err)
	}
	return nil
}

// ConfigFileGet reads key from the config file at file.
func (r *Repository) ConfigFileGet(ctx context.Context, file, key string) string {
	out, err := r.Run(ctx, "config", "-f", file, "--get", key)
	if err != nil {
		return ""
	}
	return out
}

// ConfigFileRemoveSection drops section from the config file at file.
func (r *Repository) ConfigFileRemoveSection(ctx context.Context, file, section string) error {
	if _, err := r.Run(ctx, "config", "-f", file, "--remove-section", section); err != nil {
		return fmt.Errorf("failed to remove %s from %s: %w", section, file, err)
	}
	return nil
}
