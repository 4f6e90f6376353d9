// Package layout owns the on-disk output tree:
//
//	{root}/{site}/{category}/{basename}/record/{basename}.html
//	{root}/{site}/{category}/{basename}/attachment/{filename}
//
// Paths handed to records are relative to the parent of root, so they keep
// the root's own name (usually "output") as their first element.
package layout

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	recordDirName     = "record"
	attachmentDirName = "attachment"
	maxNameRunes      = 120
)

// Tree resolves item directories below a fixed output root.
type Tree struct {
	root string
}

// ItemPaths are the absolute directories of a single harvested item.
type ItemPaths struct {
	Basename      string
	Dir           string
	RecordDir     string
	AttachmentDir string
}

// New returns a tree rooted at root.
func New(root string) Tree {
	return Tree{root: filepath.Clean(root)}
}

// Root returns the absolute output root.
func (t Tree) Root() string {
	return t.root
}

// Item computes the directories for one item. Nothing is created.
func (t Tree) Item(site, category, basename string) ItemPaths {
	dir := filepath.Join(t.root, SanitizeName(site), SanitizeName(category), SanitizeName(basename))
	return ItemPaths{
		Basename:      SanitizeName(basename),
		Dir:           dir,
		RecordDir:     filepath.Join(dir, recordDirName),
		AttachmentDir: filepath.Join(dir, attachmentDirName),
	}
}

// Prepare creates the record and attachment directories of an item.
func (t Tree) Prepare(p ItemPaths) error {
	for _, dir := range []string{p.RecordDir, p.AttachmentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Rel converts an absolute path inside the tree to its stored, slash-separated form.
func (t Tree) Rel(abs string) string {
	rel, err := filepath.Rel(filepath.Dir(t.root), abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Basename derives a stable directory name for an item URL. WeChat links are
// keyed by their "sn" signature, portal links by the file stem (plus a short
// hash of the query when there is one), anything else by a hash of the URL.
func Basename(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return hashName(pageURL)
	}
	if sn := u.Query().Get("sn"); sn != "" {
		return SanitizeName("sn" + sn)
	}
	stem := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if stem == "" || stem == "." || stem == "/" || strings.EqualFold(stem, "index") {
		return hashName(pageURL)
	}
	if u.RawQuery != "" {
		return SanitizeName(stem) + "_" + hashName(u.RawQuery)[:8]
	}
	return SanitizeName(stem)
}

// SanitizeName makes name safe to use as a single path element.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if utf8.RuneCountInString(out) > maxNameRunes {
		out = string([]rune(out)[:maxNameRunes])
	}
	if out == "" {
		return "_"
	}
	return out
}

func hashName(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// WriteFileAtomic writes data to path via a temp file in the same directory.
func WriteFileAtomic(path string, data []byte) error {
	_, err := WriteAtomic(path, bytes.NewReader(data))
	return err
}

// WriteAtomic streams r into a temp file next to path and renames it into place
// once the whole body has been written. On error no file is left behind.
func WriteAtomic(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return n, fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return n, fmt.Errorf("rename into %s: %w", path, err)
	}
	return n, nil
}
