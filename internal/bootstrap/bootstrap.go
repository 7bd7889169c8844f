// Package bootstrap links the nested .tig repository into a host repository
// as a submodule backed by a local bare repository, and stages conversation
// results afterwards.
package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/entrepeneur4lyf/tig/internal/git"
	"github.com/entrepeneur4lyf/tig/internal/index"
)

const (
	DefaultDir       = ".tig"
	DefaultRemoteDir = ".tig-remote.git"
	BackupDir        = ".tig.backup"

	gitmodulesFile = ".gitmodules"
	seedMessage    = "tig: Initialize context repository"

	// Anchored so mirrored files under files/ named the same are still added.
	nestedIgnore = "/session_state.json\n/cache/\n"
)

var (
	// ErrNotConfigured is returned when the nested repository is not linked.
	ErrNotConfigured = errors.New("tig is not configured for this repository")
	// ErrUnlinked is returned when a .tig directory exists but is not a
	// submodule of the host.
	ErrUnlinked = errors.New(".tig exists but is not a linked tig repository")
)

// State is the nested repository's relationship to the host.
type State int

const (
	Absent State = iota
	Linked
	Unlinked
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Linked:
		return "linked"
	case Unlinked:
		return "unlinked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Step is the outcome of one bootstrap or staging action.
type Step struct {
	Name string
	Err  error
}

// Report is the outcome of Setup.
type Report struct {
	State   State
	Success bool
	Message string
	Steps   []Step
	Err     error
}

func (r *Report) step(name string, err error) error {
	r.Steps = append(r.Steps, Step{Name: name, Err: err})
	return err
}

// Manager owns the host/nested repository pair.
type Manager struct {
	projectDir string
	dirName    string
	remoteName string
	host       *git.Repository
}

// NewManager creates a manager for the host work tree at projectDir. Empty
// names fall back to .tig and .tig-remote.git.
func NewManager(projectDir, dirName, remoteName string) *Manager {
	if dirName == "" {
		dirName = DefaultDir
	}
	if remoteName == "" {
		remoteName = DefaultRemoteDir
	}
	return &Manager{
		projectDir: projectDir,
		dirName:    dirName,
		remoteName: remoteName,
		host:       git.NewRepository(projectDir),
	}
}

// ProjectDir returns the host work tree root.
func (m *Manager) ProjectDir() string { return m.projectDir }

// TigDir returns the nested repository path.
func (m *Manager) TigDir() string { return filepath.Join(m.projectDir, m.dirName) }

// RemoteDir returns the bare repository path.
func (m *Manager) RemoteDir() string { return filepath.Join(m.projectDir, m.remoteName) }

// IndexPath returns the durable index path.
func (m *Manager) IndexPath() string { return filepath.Join(m.TigDir(), index.FileName) }

// Inspect classifies the nested repository.
func (m *Manager) Inspect() State {
	if _, err := os.Stat(m.TigDir()); err != nil {
		return Absent
	}
	if m.isLinked() {
		return Linked
	}
	return Unlinked
}

// IsConfigured reports whether the nested repository is linked.
func (m *Manager) IsConfigured() bool {
	return m.Inspect() == Linked
}

func (m *Manager) isLinked() bool {
	data, err := os.ReadFile(filepath.Join(m.projectDir, gitmodulesFile))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "path" && fields[1] == "=" && fields[2] == m.dirName {
			return true
		}
	}
	return false
}

// Setup links the nested repository into the host. It never mutates an
// existing .tig: a linked one is left alone and an unlinked one is refused.
func (m *Manager) Setup(ctx context.Context) *Report {
	if !m.host.IsGitRepository(ctx) {
		return &Report{
			Message: "not in a git repository; run git init first",
			Err:     git.ErrNotGitRepository,
		}
	}

	report := &Report{State: m.Inspect()}
	switch report.State {
	case Linked:
		report.Success = true
		report.Message = "tig already configured"
		return report
	case Unlinked:
		report.Message = fmt.Sprintf("%s already exists but is not a tig submodule; remove it manually and run setup again", m.dirName)
		report.Err = ErrUnlinked
		return report
	}

	log.Info("Creating tig nested repository", "dir", m.TigDir(), "remote", m.RemoteDir())
	if err := m.create(ctx, report); err != nil {
		log.Error("Setup failed, cleaning up", "err", err)
		m.cleanup(ctx)
		report.Message = "setup failed: " + err.Error()
		report.Err = err
		return report
	}

	report.State = Linked
	report.Success = true
	report.Message = "tig nested repository created"
	return report
}

func (m *Manager) create(ctx context.Context, report *Report) error {
	remote := m.RemoteDir()
	if err := os.RemoveAll(remote); err != nil {
		return report.step("remove stale bare repository", err)
	}

	bare, err := git.InitBare(ctx, remote)
	if err := report.step("create bare repository", err); err != nil {
		return err
	}
	if err := report.step("seed bare repository", m.seed(ctx, bare)); err != nil {
		return err
	}
	if err := report.step("add submodule", m.host.SubmoduleAdd(ctx, remote, m.dirName)); err != nil {
		return err
	}
	if err := report.step("initialize structure", m.initStructure()); err != nil {
		return err
	}
	if err := report.step("configure branch following", m.followBranches(ctx)); err != nil {
		return err
	}

	added, err := EnsureIgnored(m.projectDir, []string{m.remoteName + "/", BackupDir + "/"})
	if err := report.step("update .gitignore", err); err != nil {
		return err
	}
	if len(added) > 0 {
		log.Info("Updated .gitignore", "entries", added)
	}
	return nil
}

// seed gives the bare repository an initial commit so it can be cloned as a
// submodule.
func (m *Manager) seed(ctx context.Context, bare *git.Repository) error {
	tmp, err := os.MkdirTemp("", "tig-seed-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	clone, err := git.Clone(ctx, bare.Dir(), filepath.Join(tmp, "seed"))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(map[string]string{"version": "1.0", "type": "tig-context"}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(clone.Dir(), "config.json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write config.json: %w", err)
	}

	if err := clone.AddAll(ctx); err != nil {
		return err
	}
	if err := clone.Commit(ctx, seedMessage); err != nil {
		return err
	}
	if err := clone.Push(ctx, "origin"); err != nil {
		return err
	}

	// point the bare HEAD at whatever branch the clone committed on
	branch := clone.CurrentBranch(ctx)
	if _, err := bare.Run(ctx, "symbolic-ref", "HEAD", "refs/heads/"+branch); err != nil {
		return fmt.Errorf("failed to set bare HEAD: %w", err)
	}
	return nil
}

func (m *Manager) initStructure() error {
	tig := m.TigDir()
	for _, dir := range []string{"cache", "shadow", "files"} {
		if err := os.MkdirAll(filepath.Join(tig, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(filepath.Join(tig, ".gitignore"), []byte(nestedIgnore), 0644); err != nil {
		return fmt.Errorf("failed to write nested .gitignore: %w", err)
	}
	return index.New().Save(m.IndexPath())
}

func (m *Manager) followBranches(ctx context.Context) error {
	if err := m.host.ConfigFileSet(ctx, gitmodulesFile, "submodule."+m.dirName+".branch", "."); err != nil {
		return err
	}
	return m.host.SubmoduleSync(ctx)
}

// cleanup removes every trace of a failed setup. Each step is best-effort.
func (m *Manager) cleanup(ctx context.Context) {
	if err := os.RemoveAll(m.RemoteDir()); err != nil {
		log.Warn("Cleanup: failed to remove bare repository", "err", err)
	}

	_ = m.host.SubmoduleDeinit(ctx, m.dirName)
	_ = m.host.RemoveCached(ctx, m.dirName)

	gitmodules := filepath.Join(m.projectDir, gitmodulesFile)
	if _, err := os.Stat(gitmodules); err == nil {
		_ = m.host.ConfigFileRemoveSection(ctx, gitmodulesFile, "submodule."+m.dirName)
		if data, err := os.ReadFile(gitmodules); err == nil && strings.TrimSpace(string(data)) == "" {
			_ = m.host.RemoveCached(ctx, gitmodulesFile)
			_ = os.Remove(gitmodules)
		} else {
			_ = m.host.Add(ctx, gitmodulesFile)
		}
	}

	for _, dir := range []string{m.TigDir(), filepath.Join(m.projectDir, ".git", "modules", m.dirName)} {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Cleanup: failed to remove directory", "dir", dir, "err", err)
		}
	}
}
