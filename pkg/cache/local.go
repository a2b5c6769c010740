package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	clog "github.com/xrsl/skipper/pkg/log"
	"github.com/xrsl/skipper/pkg/utils"
)

const (
	entryFile    = "entry.yaml"
	artifactFile = "artifact.tar.gz"
)

// LocalBackend stores entries in a directory, one subdirectory per key:
//
//	{dir}/
//	  {sha256(key)}/
//	    entry.yaml       (key, saved_at, size)
//	    artifact.tar.gz
//
// An entry becomes visible only once entry.yaml is written.
type LocalBackend struct {
	dir string
	now func() time.Time
}

func NewLocalBackend(dir string) *LocalBackend {
	return &LocalBackend{dir: dir, now: time.Now}
}

func (b *LocalBackend) Name() string {
	return "local"
}

// KeyDigest returns the directory name used for a key.
func KeyDigest(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

func (b *LocalBackend) entryDir(key string) string {
	return filepath.Join(b.dir, KeyDigest(key))
}

func (b *LocalBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	dirs, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, d.Name(), entryFile))
		if err != nil {
			// incomplete or foreign directory
			continue
		}
		var e Entry
		if err := yaml.Unmarshal(data, &e); err != nil {
			clog.Debug("skipping unreadable cache entry", "dir", d.Name(), "error", err)
			continue
		}
		if strings.HasPrefix(e.Key, prefix) {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (b *LocalBackend) Get(ctx context.Context, e Entry, w io.Writer) error {
	f, err := os.Open(filepath.Join(b.entryDir(e.Key), artifactFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, e.Key)
		}
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (b *LocalBackend) Put(ctx context.Context, key string, r io.Reader) (Entry, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("failed to create cache dir: %w", err)
	}
	dir := b.entryDir(key)
	// Mkdir is the insert-only lock: exactly one writer wins a key.
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Entry{}, ErrKeyExists
		}
		return Entry{}, err
	}

	entry, err := b.write(dir, key, r)
	if err != nil {
		_ = os.RemoveAll(dir)
		return Entry{}, err
	}
	return entry, nil
}

func (b *LocalBackend) write(dir, key string, r io.Reader) (Entry, error) {
	f, err := os.Create(filepath.Join(dir, artifactFile))
	if err != nil {
		return Entry{}, err
	}
	size, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return Entry{}, err
	}
	if err := f.Close(); err != nil {
		return Entry{}, err
	}

	e := Entry{
		Key:     key,
		ID:      filepath.Base(dir),
		SavedAt: b.now().UTC(),
		Size:    size,
	}
	data, err := yaml.Marshal(e)
	if err != nil {
		return Entry{}, err
	}
	if err := utils.WriteFile(filepath.Join(dir, entryFile), data); err != nil {
		return Entry{}, err
	}
	return e, nil
}
