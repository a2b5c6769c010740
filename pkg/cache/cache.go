// Package cache persists a small artifact across otherwise stateless job
// executions. Artifacts are stored under an exact key and looked up by the
// exact key first, then by an ordered list of key prefixes, newest entry wins.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	clog "github.com/xrsl/skipper/pkg/log"
)

var (
	// ErrKeyExists is returned by Save when an entry already holds the key.
	ErrKeyExists = errors.New("cache entry already exists")
	// ErrNotFound is returned by backends asked for an entry they do not have.
	ErrNotFound = errors.New("cache entry not found")
)

// Entry describes one stored artifact.
type Entry struct {
	Key     string    `yaml:"key"`
	ID      string    `yaml:"id"`
	SavedAt time.Time `yaml:"saved_at"`
	Size    int64     `yaml:"size"`
}

// Backend stores artifacts. Entries are insert-only: Put on an existing key
// fails with ErrKeyExists.
type Backend interface {
	Name() string
	// List returns every entry whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// Get writes the artifact of e to w.
	Get(ctx context.Context, e Entry, w io.Writer) error
	// Put stores the artifact read from r under key.
	Put(ctx context.Context, key string, r io.Reader) (Entry, error)
}

// Client archives local paths into a single artifact and moves it through a Backend.
type Client struct {
	backend Backend
}

func New(b Backend) *Client {
	return &Client{backend: b}
}

func (c *Client) Backend() Backend {
	return c.backend
}

// Restore looks up primaryKey, then each prefix in order, and materializes the
// matched artifact at paths. It returns the matched key, or "" on a miss.
//
// Backend and extraction failures are logged and reported as a miss: an
// unavailable cache must never block the job. Paths are either fully restored
// or left untouched.
func (c *Client) Restore(ctx context.Context, paths []string, primaryKey string, prefixes []string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("no paths to restore")
	}
	if primaryKey == "" {
		return "", errors.New("empty cache key")
	}

	entry, err := c.lookup(ctx, primaryKey, prefixes)
	if err != nil {
		clog.Warn("cache lookup failed, treating as miss", "backend", c.backend.Name(), "error", err)
		return "", nil
	}
	if entry == nil {
		return "", nil
	}

	tmp, err := os.CreateTemp("", "skipper-restore-*.tar.gz")
	if err != nil {
		clog.Warn("cache restore failed, treating as miss", "error", err)
		return "", nil
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if err := c.backend.Get(ctx, *entry, tmp); err != nil {
		clog.Warn("cache download failed, treating as miss", "key", entry.Key, "backend", c.backend.Name(), "error", err)
		return "", nil
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		clog.Warn("cache restore failed, treating as miss", "key", entry.Key, "error", err)
		return "", nil
	}
	n, err := extractArchive(tmp, paths)
	if err != nil {
		clog.Warn("cache artifact unusable, treating as miss", "key", entry.Key, "error", err)
		return "", nil
	}

	clog.Debug("cache restored", "key", entry.Key, "files", n, "saved_at", entry.SavedAt)
	return entry.Key, nil
}

// lookup returns the exact entry for primaryKey if present, otherwise the
// newest entry under the first prefix that has any.
func (c *Client) lookup(ctx context.Context, primaryKey string, prefixes []string) (*Entry, error) {
	entries, err := c.backend.List(ctx, primaryKey)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Key == primaryKey {
			return &entries[i], nil
		}
	}

	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		entries, err := c.backend.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		if e := newest(entries, prefix); e != nil {
			return e, nil
		}
	}
	return nil, nil
}

func newest(entries []Entry, prefix string) *Entry {
	var matched []Entry
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].SavedAt.Equal(matched[j].SavedAt) {
			return matched[i].SavedAt.After(matched[j].SavedAt)
		}
		return matched[i].Key > matched[j].Key
	})
	return &matched[0]
}

// Save archives paths and stores them under key. It returns the backend's
// artifact id. An existing key yields an error wrapping ErrKeyExists.
func (c *Client) Save(ctx context.Context, paths []string, key string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("no paths to save")
	}
	if key == "" {
		return "", errors.New("empty cache key")
	}

	tmp, err := os.CreateTemp("", "skipper-save-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	n, err := writeArchive(tmp, paths)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind archive: %w", err)
	}

	entry, err := c.backend.Put(ctx, key, tmp)
	if err != nil {
		return "", fmt.Errorf("failed to save cache key %s: %w", key, err)
	}
	clog.Debug("cache saved", "key", key, "files", n, "id", entry.ID, "backend", c.backend.Name())
	return entry.ID, nil
}
