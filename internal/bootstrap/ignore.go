package bootstrap

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreProbe is a child name used to ask whether a directory is ignored;
// directory patterns like "foo/" only match paths beneath foo.
const ignoreProbe = "HEAD"

// IgnoreFilter answers gitignore questions for the host repository.
type IgnoreFilter struct {
	ignore      *gitignore.GitIgnore
	projectRoot string
}

// NewIgnoreFilter loads the host's .gitignore and .git/info/exclude.
func NewIgnoreFilter(projectRoot string) *IgnoreFilter {
	filter := &IgnoreFilter{projectRoot: projectRoot}
	filter.load()
	return filter
}

func (f *IgnoreFilter) load() {
	var patterns []string
	for _, p := range []string{
		filepath.Join(f.projectRoot, ".gitignore"),
		filepath.Join(f.projectRoot, ".git", "info", "exclude"),
	} {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}
	f.ignore = gitignore.CompileIgnoreLines(patterns...)
}

// IsIgnored reports whether path (absolute or relative to the project root)
// is ignored.
func (f *IgnoreFilter) IsIgnored(path string) bool {
	if f.ignore == nil {
		return false
	}

	relPath := path
	if filepath.IsAbs(path) {
		if rel, err := filepath.Rel(f.projectRoot, path); err == nil {
			relPath = rel
		}
	}
	return f.ignore.MatchesPath(filepath.ToSlash(relPath))
}

// IsDirIgnored reports whether everything under dir is ignored.
func (f *IgnoreFilter) IsDirIgnored(dir string) bool {
	return f.IsIgnored(filepath.Join(strings.TrimSuffix(dir, "/"), ignoreProbe))
}

// EnsureIgnored appends the directory entries the host .gitignore does not
// already cover, under a marker comment. It returns the entries added.
func EnsureIgnored(projectRoot string, entries []string) ([]string, error) {
	filter := NewIgnoreFilter(projectRoot)
	path := filepath.Join(projectRoot, ".gitignore")

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	lines := map[string]bool{}
	for _, l := range strings.Split(string(existing), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines[l] = true
		}
	}

	var missing []string
	for _, e := range entries {
		if lines[e] || filter.IsDirIgnored(e) {
			continue
		}
		missing = append(missing, e)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var b strings.Builder
	if len(existing) > 0 {
		if !strings.HasSuffix(string(existing), "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("# tig nested repository\n")
	for _, e := range missing {
		b.WriteString(e + "\n")
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if _, err := file.WriteString(b.String()); err != nil {
		return nil, err
	}
	return missing, nil
}
