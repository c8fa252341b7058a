package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrNoChanges is returned for a patch without any file operations
var ErrNoChanges = errors.New("no files were modified")

// ApplyError describes a file operation that could not be completed
type ApplyError struct {
	Op   string
	Path string
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// templateVars matches unresolved variable placeholders in paths
var templateVars = regexp.MustCompile(`\$\{\{[^}]*\}\}|\{\{[^}]*\}\}|\$\{[^}]+\}`)

// Applier applies patch documents to the files under Root
type Applier struct {
	// Root is the directory patch paths are relative to
	Root string
	// LockDir holds the lock file that serializes appliers sharing a Root.
	// Locking is disabled when empty.
	LockDir string
	Logger  *slog.Logger
}

// NewApplier creates an Applier rooted at root
func NewApplier(root, lockDir string, logger *slog.Logger) (*Applier, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Applier{Root: abs, LockDir: lockDir, Logger: logger}, nil
}

// affected lists the paths touched by a patch, as written in the patch
type affected struct {
	added    []string
	modified []string
	deleted  []string
}

// Apply parses patch and applies every hunk in order. A summary goes to
// stdout; on failure the error is also written to stderr. Hunks applied
// before a failure are kept.
func (a *Applier) Apply(patch string, stdout, stderr io.Writer) error {
	hunks, err := Parse(patch)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	if len(hunks) == 0 {
		fmt.Fprintln(stderr, ErrNoChanges)
		return ErrNoChanges
	}

	unlock, err := a.lock()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return err
	}
	defer unlock()

	var done affected
	for _, hunk := range hunks {
		if err := a.applyHunk(hunk, &done); err != nil {
			fmt.Fprintln(stderr, err)
			return err
		}
	}

	fmt.Fprintln(stdout, "Success. Updated the following files:")
	for _, p := range done.added {
		fmt.Fprintf(stdout, "A %s\n", p)
	}
	for _, p := range done.modified {
		fmt.Fprintf(stdout, "M %s\n", p)
	}
	for _, p := range done.deleted {
		fmt.Fprintf(stdout, "D %s\n", p)
	}
	return nil
}

func (a *Applier) applyHunk(hunk Hunk, done *affected) error {
	path, err := a.resolve(hunk.Path)
	if err != nil {
		return err
	}

	switch hunk.Kind {
	case AddFile:
		if err := writeFile(path, hunk.Contents, 0o644); err != nil {
			return &ApplyError{Op: "add", Path: hunk.Path, Err: err}
		}
		a.Logger.Debug("added file", "path", hunk.Path, "lines", strings.Count(hunk.Contents, "\n"))
		done.added = append(done.added, hunk.Path)

	case DeleteFile:
		info, err := os.Stat(path)
		if err != nil {
			return &ApplyError{Op: "delete", Path: hunk.Path, Err: err}
		}
		if info.IsDir() {
			return &ApplyError{Op: "delete", Path: hunk.Path, Err: errors.New("is a directory")}
		}
		if err := os.Remove(path); err != nil {
			return &ApplyError{Op: "delete", Path: hunk.Path, Err: err}
		}
		a.Logger.Debug("deleted file", "path", hunk.Path)
		done.deleted = append(done.deleted, hunk.Path)

	case UpdateFile:
		info, err := os.Stat(path)
		if err != nil {
			return &ApplyError{Op: "update", Path: hunk.Path, Err: err}
		}
		original, err := os.ReadFile(path)
		if err != nil {
			return &ApplyError{Op: "update", Path: hunk.Path, Err: err}
		}
		updated, err := deriveContents(hunk.Path, string(original), hunk.Chunks)
		if err != nil {
			return err
		}

		added, removed := lineStats(string(original), updated)
		a.Logger.Debug("updated file", "path", hunk.Path, "added", added, "removed", removed)

		if hunk.MovePath == "" {
			if err := writeFile(path, updated, info.Mode().Perm()); err != nil {
				return &ApplyError{Op: "update", Path: hunk.Path, Err: err}
			}
			done.modified = append(done.modified, hunk.Path)
			return nil
		}

		dest, err := a.resolve(hunk.MovePath)
		if err != nil {
			return err
		}
		if err := writeFile(dest, updated, info.Mode().Perm()); err != nil {
			return &ApplyError{Op: "move", Path: hunk.MovePath, Err: err}
		}
		if dest != path {
			if err := os.Remove(path); err != nil {
				return &ApplyError{Op: "move", Path: hunk.Path, Err: err}
			}
		}
		done.modified = append(done.modified, hunk.MovePath)
	}
	return nil
}

// resolve maps a patch path to a location under Root
func (a *Applier) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &ApplyError{Op: "resolve", Path: p, Err: errors.New("empty path")}
	}
	if match := templateVars.FindString(p); match != "" {
		return "", &ApplyError{Op: "resolve", Path: p, Err: fmt.Errorf("unresolved template variable %q", match)}
	}
	if filepath.IsAbs(p) {
		return "", &ApplyError{Op: "resolve", Path: p, Err: errors.New("absolute paths are not allowed")}
	}

	full := filepath.Join(a.Root, p)
	if !within(a.Root, full) {
		return "", &ApplyError{Op: "resolve", Path: p, Err: errors.New("path escapes the working directory")}
	}
	if err := a.checkSymlinks(full); err != nil {
		return "", &ApplyError{Op: "resolve", Path: p, Err: err}
	}
	return full, nil
}

// checkSymlinks resolves the deepest existing ancestor of full and makes
// sure it still lies under the resolved Root
func (a *Applier) checkSymlinks(full string) error {
	root, err := filepath.EvalSymlinks(a.Root)
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return nil
		}
		existing = parent
	}

	target, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("failed to resolve symlink: %w", err)
	}
	if !within(root, target) {
		return errors.New("path escapes the working directory through a symlink")
	}
	return nil
}

// within reports whether path is root or below it
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// lock takes the cross-process lock for Root
func (a *Applier) lock() (func(), error) {
	if a.LockDir == "" {
		return func() {}, nil
	}
	sum := sha256.Sum256([]byte(a.Root))
	name := "codex-tools-mcp-" + hex.EncodeToString(sum[:8]) + ".lock"
	fl := flock.New(filepath.Join(a.LockDir, name))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire patch lock: %w", err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			a.Logger.Warn("failed to release patch lock", "path", fl.Path(), "error", err)
		}
	}, nil
}

func writeFile(path, contents string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	return os.WriteFile(path, []byte(contents), perm)
}

type replacement struct {
	start   int
	oldLen  int
	newLine []string
}

// deriveContents applies the chunks of an update to the original text
func deriveContents(path, original string, chunks []Chunk) (string, error) {
	lines := strings.Split(original, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	replacements, err := computeReplacements(path, lines, chunks)
	if err != nil {
		return "", err
	}

	for i := len(replacements) - 1; i >= 0; i-- {
		r := replacements[i]
		tail := append([]string{}, lines[r.start+r.oldLen:]...)
		lines = append(append(lines[:r.start], r.newLine...), tail...)
	}

	if len(lines) == 0 || lines[len(lines)-1] != "" {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n"), nil
}

func computeReplacements(path string, lines []string, chunks []Chunk) ([]replacement, error) {
	var replacements []replacement
	lineIndex := 0

	for _, chunk := range chunks {
		if chunk.HasContext {
			idx, ok := seekSequence(lines, []string{chunk.Context}, lineIndex, false)
			if !ok {
				return nil, &ApplyError{Op: "update", Path: path, Err: fmt.Errorf("failed to find context '%s'", chunk.Context)}
			}
			lineIndex = idx + 1
		}

		if len(chunk.OldLines) == 0 {
			at := len(lines)
			if at > 0 && lines[at-1] == "" {
				at--
			}
			replacements = append(replacements, replacement{start: at, newLine: chunk.NewLines})
			continue
		}

		pattern := chunk.OldLines
		newLines := chunk.NewLines
		start, ok := seekChunk(lines, pattern, lineIndex, chunk.EndOfFile)
		if !ok && pattern[len(pattern)-1] == "" {
			// a trailing blank context line often stands for the final newline
			pattern = pattern[:len(pattern)-1]
			if len(newLines) > 0 && newLines[len(newLines)-1] == "" {
				newLines = newLines[:len(newLines)-1]
			}
			start, ok = seekChunk(lines, pattern, lineIndex, chunk.EndOfFile)
		}
		if !ok {
			return nil, &ApplyError{
				Op:   "update",
				Path: path,
				Err:  fmt.Errorf("failed to find expected lines:\n%s", strings.Join(chunk.OldLines, "\n")),
			}
		}

		replacements = append(replacements, replacement{start: start, oldLen: len(pattern), newLine: newLines})
		lineIndex = start + len(pattern)
	}

	sort.SliceStable(replacements, func(i, j int) bool {
		return replacements[i].start < replacements[j].start
	})
	for i := 1; i < len(replacements); i++ {
		prev := replacements[i-1]
		if replacements[i].start < prev.start+prev.oldLen {
			return nil, &ApplyError{Op: "update", Path: path, Err: errors.New("chunks overlap")}
		}
	}
	return replacements, nil
}

// seekChunk finds pattern at or after lineIndex. An end-of-file anchored
// match that lands before lineIndex would overlap an earlier chunk, so the
// search falls back to the unanchored one.
func seekChunk(lines, pattern []string, lineIndex int, eof bool) (int, bool) {
	start, ok := seekSequence(lines, pattern, lineIndex, eof)
	if ok && start >= lineIndex {
		return start, true
	}
	if eof {
		return seekSequence(lines, pattern, lineIndex, false)
	}
	return 0, false
}

// lineStats counts added and removed lines between two texts
func lineStats(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if !strings.HasSuffix(d.Text, "\n") && d.Text != "" {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
