package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Path validation errors.
var (
	ErrInvalidPath  = errors.New("invalid path")
	ErrAbsolutePath = errors.New("absolute paths not allowed")
	ErrPathEscape   = errors.New("path escapes workspace root")
	ErrProtected    = errors.New("path is inside a protected directory")
)

// StateDirName is the per-workspace directory holding logs and the timeline.
const StateDirName = ".streamedit"

// skipDirs are never descended into when walking a workspace.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	StateDirName:   true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// protectedDirs hold repository metadata and tool state. No path may
// traverse them, at any depth.
var protectedDirs = []string{".git", ".hg", ".svn", StateDirName}

func isProtected(seg string) bool {
	for _, d := range protectedDirs {
		if strings.EqualFold(seg, d) {
			return true
		}
	}
	return false
}

// CleanRelative validates a model-supplied path and returns its clean,
// slash-separated relative form.
func CleanRelative(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.ContainsRune(p, '\x00') || strings.Contains(p, `\`) {
		return "", ErrInvalidPath
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) || hasDriveLetter(p) {
		return "", ErrAbsolutePath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", ErrPathEscape
		}
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	if clean == "." || clean == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(clean, "/") {
		if isProtected(seg) {
			return "", ErrProtected
		}
	}
	return clean, nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Workspace is the file tree edits are applied to. All paths it accepts are
// relative to Root.
type Workspace struct {
	root     string
	realRoot string // root with symlinks evaluated
}

// NewWorkspace creates a Workspace rooted at an absolute version of root.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("could not resolve workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("could not open workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("could not resolve workspace root: %w", err)
	}
	return &Workspace{root: abs, realRoot: realRoot}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// StateDir returns the directory used for logs and the timeline database.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.root, StateDirName)
}

// Resolve turns a relative path into an absolute path inside the root.
func (w *Workspace) Resolve(relativePath string) (string, error) {
	clean, err := CleanRelative(relativePath)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(w.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(w.root, joined)
	if err != nil {
		return "", err
	}
	// "..." or "..foo" are valid names, only ".." itself is a traversal.
	if escapes(rel) {
		return "", ErrPathEscape
	}
	if err := w.checkLinks(joined); err != nil {
		return "", err
	}
	return joined, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// checkLinks evaluates symlinks in the deepest existing ancestor of abs
// (abs itself when it exists) and rejects targets outside the real root.
func (w *Workspace) checkLinks(abs string) error {
	existing := abs
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if errors.Is(err, iofs.ErrPermission) {
			return fmt.Errorf("stat %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return ErrPathEscape
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		// A dangling link cannot be shown to stay inside the root.
		return fmt.Errorf("%w: %v", ErrPathEscape, err)
	}
	rel, err := filepath.Rel(w.realRoot, resolved)
	if err != nil || escapes(rel) {
		return ErrPathEscape
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if isProtected(seg) {
			return ErrProtected
		}
	}
	return nil
}

// Read returns the content of a file and whether it exists.
func (w *Workspace) Read(path string) (string, bool, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), true, nil
}

// Write replaces a file atomically, creating intermediate directories. The
// content lands in a temp file in the same directory and is renamed over the
// target, so the file is either fully rewritten or untouched.
func (w *Workspace) Write(path, content string) error {
	abs, err := w.Resolve(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return fmt.Errorf("write %s: target is a directory", path)
		}
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".streamedit-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := io.WriteString(tmp, content); err != nil {
		cleanup()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a regular file exists at path.
func (w *Workspace) Exists(path string) bool {
	abs, err := w.Resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}

// GetFileActions reports "create" or "modify" for each target path.
func (w *Workspace) GetFileActions(paths []string) map[string]string {
	actions := make(map[string]string, len(paths))
	for _, p := range paths {
		if w.Exists(p) {
			actions[p] = "modify"
		} else {
			actions[p] = "create"
		}
	}
	return actions
}

// WalkFunc receives a workspace-relative, slash-separated path for every
// regular file visited.
type WalkFunc func(rel string, abs string, info iofs.FileInfo) error

// Walk visits every regular file under dir (relative to the root, "" for the
// whole workspace), skipping VCS, dependency and state directories. Files
// are visited in lexical order.
func (w *Workspace) Walk(ctx context.Context, dir string, fn WalkFunc) error {
	start := w.root
	if dir != "" {
		abs, err := w.Resolve(dir)
		if err != nil {
			return err
		}
		start = abs
	}
	return filepath.WalkDir(start, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != start && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		return fn(filepath.ToSlash(rel), path, info)
	})
}

// Snapshot reads every path and returns the contents of those that exist.
// Missing files are absent from the map.
func Snapshot(r Reader, paths []string) (map[string]string, error) {
	snap := make(map[string]string, len(paths))
	var errs []error
	for _, p := range paths {
		content, ok, err := r.Read(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			snap[p] = content
		}
	}
	return snap, errors.Join(errs...)
}

// Reader is the read half of the filesystem collaborator.
type Reader interface {
	Read(path string) (string, bool, error)
}

// IsBinary reports whether data looks like a binary file.
func IsBinary(data []byte) bool {
	const sniff = 8000
	if len(data) > sniff {
		data = data[:sniff]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// GetFileSHA256 returns the hex SHA-256 of a file's content.
func GetFileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashContent returns the hex SHA-256 of a string.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// FindRoot returns the git top-level directory containing dir, or dir itself
// when it is not inside a repository.
func FindRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("could not resolve %s: %w", dir, err)
	}
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = abs
	output, err := cmd.Output()
	if err != nil {
		return abs, nil
	}
	root := strings.TrimSpace(string(output))
	if root == "" {
		return abs, nil
	}
	return root, nil
}

// SortedKeys returns the keys of a string-keyed map in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
