package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrNotGitRepository is returned when an operation needs a work tree and the
// directory is not inside one.
var ErrNotGitRepository = errors.New("not a git repository")

// ErrNothingStaged is returned by Commit when the index has no changes.
var ErrNothingStaged = errors.New("nothing staged to commit")

// GitStatus represents the status of a git repository
type GitStatus struct {
	Branch       string            `json:"branch"`
	Status       string            `json:"status"`
	Modified     []string          `json:"modified"`
	Untracked    []string          `json:"untracked"`
	Staged       []string          `json:"staged"`
	Deleted      []string          `json:"deleted"`
	FileStatuses map[string]string `json:"file_statuses"`
}

// GitCommit represents a git commit
type GitCommit struct {
	Hash      string    `json:"hash"`
	ShortHash string    `json:"short_hash"`
	Subject   string    `json:"subject"`
	Author    string    `json:"author"`
	Date      time.Time `json:"date"`
	Body      string    `json:"body,omitempty"`
}

// Repository represents a git repository
type Repository struct {
	workingDir string
	// extra "-c key=value" pairs prepended to every invocation
	configArgs []string
}

// NewRepository creates a new git repository instance
func NewRepository(workingDir string) *Repository {
	return &Repository{
		workingDir: workingDir,
	}
}

// WithConfig returns a copy of the repository that passes key=value as a
// one-off configuration override to every git invocation.
func (r *Repository) WithConfig(key, value string) *Repository {
	args := append(append([]string{}, r.configArgs...), "-c", key+"="+value)
	return &Repository{workingDir: r.workingDir, configArgs: args}
}

// Dir returns the working directory git commands run in.
func (r *Repository) Dir() string {
	return r.workingDir
}

// IsGitInstalled checks if git is installed and available
func IsGitInstalled() bool {
	_, err := exec.LookPath("git")
	return err == nil
}

// CommandError carries the output of a failed git invocation.
type CommandError struct {
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run executes git with args in the repository's working directory and
// returns stdout without its trailing newline.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	full := append(append([]string{}, r.configArgs...), args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = r.workingDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &CommandError{Args: args, Output: stderr.String() + stdout.String(), Err: err}
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// IsGitRepository checks if the directory is inside a git work tree
func (r *Repository) IsGitRepository(ctx context.Context) bool {
	if _, err := os.Stat(r.workingDir); err != nil {
		return false
	}
	_, err := r.Run(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// TopLevel returns the root of the work tree containing the working dir.
func (r *Repository) TopLevel(ctx context.Context) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotGitRepository, err)
	}
	return out, nil
}

// Add stages the given paths.
func (r *Repository) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	if _, err := r.Run(ctx, args...); err != nil {
		return fmt.Errorf("failed to stage %s: %w", strings.Join(paths, ", "), err)
	}
	return nil
}

// ForceAdd stages the given paths even when an ignore rule matches them.
func (r *Repository) ForceAdd(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--force", "--"}, paths...)
	if _, err := r.Run(ctx, args...); err != nil {
		return fmt.Errorf("failed to stage %s: %w", strings.Join(paths, ", "), err)
	}
	return nil
}

// AddAll stages every change in the work tree.
func (r *Repository) AddAll(ctx context.Context) error {
	if _, err := r.Run(ctx, "add", "."); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repository) HasStagedChanges(ctx context.Context) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", append(append([]string{}, r.configArgs...), "diff", "--cached", "--quiet")...)
	cmd.Dir = r.workingDir

	err := cmd.Run()
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return true, nil
	}
	return false, fmt.Errorf("failed to diff index: %w", err)
}

// Commit records the staged changes with message. It returns ErrNothingStaged
// when there is nothing to commit.
func (r *Repository) Commit(ctx context.Context, message string) error {
	staged, err := r.HasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		return ErrNothingStaged
	}
	if _, err := r.Run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit failed: %w", err)
	}
	return nil
}

// RevParse resolves ref to a full commit hash.
func (r *Repository) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := r.Run(ctx, "rev-parse", "--verify", ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", ref, err)
	}
	return out, nil
}

// ConfigGet reads a configuration value, returning "" when it is unset.
func (r *Repository) ConfigGet(ctx context.Context, key string) string {
	out, err := r.Run(ctx, "config", "--get", key)
	if err != nil {
		return ""
	}
	return out
}

// CurrentBranch gets the current branch name
func (r *Repository) CurrentBranch(ctx context.Context) string {
	out, err := r.Run(ctx, "branch", "--show-current")
	if err != nil || out == "" {
		// Fallback to symbolic-ref for older git versions
		out, err = r.Run(ctx, "symbolic-ref", "--short", "HEAD")
		if err != nil {
			return "HEAD" // Detached HEAD state
		}
	}
	return out
}

// GetStatus gets the current git status
func (r *Repository) GetStatus(ctx context.Context) (*GitStatus, error) {
	if !r.IsGitRepository(ctx) {
		return nil, ErrNotGitRepository
	}

	status := &GitStatus{
		Branch:       r.CurrentBranch(ctx),
		FileStatuses: make(map[string]string),
	}

	output, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to get porcelain status: %w", err)
	}
	if err := parsePorcelain(output, status); err != nil {
		return nil, err
	}

	status.Status = determineOverallStatus(status)
	return status, nil
}

// parsePorcelain parses git status --porcelain output
func parsePorcelain(output string, status *GitStatus) error {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 4 {
			continue
		}

		statusCode := line[:2]
		filePath := line[3:]

		// Handle renames (format: "R  old -> new")
		if parts := strings.Split(filePath, " -> "); len(parts) == 2 {
			filePath = parts[1]
		}

		indexStatus := statusCode[0]
		workTreeStatus := statusCode[1]
		status.FileStatuses[filePath] = statusCode

		switch {
		case statusCode == "??":
			status.Untracked = append(status.Untracked, filePath)
		case indexStatus == 'D' || workTreeStatus == 'D':
			status.Deleted = append(status.Deleted, filePath)
		case indexStatus != ' ':
			status.Staged = append(status.Staged, filePath)
		case workTreeStatus == 'M':
			status.Modified = append(status.Modified, filePath)
		}
	}

	return scanner.Err()
}

// determineOverallStatus determines the overall repository status
func determineOverallStatus(status *GitStatus) string {
	if len(status.Staged) > 0 {
		return "staged"
	}
	if len(status.Modified) > 0 || len(status.Deleted) > 0 {
		return "modified"
	}
	if len(status.Untracked) > 0 {
		return "untracked"
	}
	return "clean"
}

// GetCommit reads commit metadata for ref.
func (r *Repository) GetCommit(ctx context.Context, ref string) (*GitCommit, error) {
	output, err := r.Run(ctx, "log", "-1", "--format=%H%n%h%n%s%n%an%n%ad%n%b", "--date=iso", ref, "--")
	if err != nil {
		return nil, err
	}

	lines := strings.Split(output, "\n")
	if len(lines) < 5 {
		return nil, fmt.Errorf("invalid git log output")
	}

	date, err := time.Parse("2006-01-02 15:04:05 -0700", lines[4])
	if err != nil {
		date = time.Time{}
	}

	commit := &GitCommit{
		Hash:      lines[0],
		ShortHash: lines[1],
		Subject:   lines[2],
		Author:    lines[3],
		Date:      date,
	}

	if len(lines) > 5 {
		commit.Body = strings.TrimSpace(strings.Join(lines[5:], "\n"))
	}

	return commit, nil
}
