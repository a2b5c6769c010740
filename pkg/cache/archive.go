package cache

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	clog "github.com/xrsl/skipper/pkg/log"
)

var errNothingToSave = errors.New("none of the cache paths exist")

// writeArchive writes the regular files at paths (directories are walked) to
// w as tar+gzip. Entries are named by the position of their path in paths,
// "<i>" for a file and "<i>/<rel>" for a file inside a directory, so an
// artifact can be restored on a runner whose temp directory lives elsewhere.
func writeArchive(w io.Writer, paths []string) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	count := 0
	add := func(name, path string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		count++
		return nil
	}

	for i, root := range paths {
		index := strconv.Itoa(i)
		info, err := os.Lstat(root)
		if errors.Is(err, fs.ErrNotExist) {
			clog.Debug("cache path does not exist", "path", root)
			continue
		}
		if err != nil {
			return count, err
		}
		if info.Mode().IsRegular() {
			if err := add(index, root, info); err != nil {
				return count, fmt.Errorf("failed to archive %s: %w", root, err)
			}
			continue
		}
		if !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.Type().IsRegular() {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			return add(index+"/"+filepath.ToSlash(rel), path, info)
		})
		if err != nil {
			return count, fmt.Errorf("failed to archive %s: %w", root, err)
		}
	}
	if count == 0 {
		return 0, errNothingToSave
	}

	if err := tw.Close(); err != nil {
		return count, err
	}
	return count, gz.Close()
}

type staged struct {
	tmp  string
	dest string
}

// extractArchive restores the entries of r to the paths at the positions they
// were saved from. Entries past the end of paths are skipped. Every entry
// is first written to a temp file beside its destination; destinations are
// only replaced once the whole archive has been read successfully.
func extractArchive(r io.Reader, paths []string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	var files []staged
	cleanup := func() {
		for _, s := range files {
			_ = os.Remove(s.tmp)
		}
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			cleanup()
			return 0, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hasDotDot(hdr.Name) {
			cleanup()
			return 0, fmt.Errorf("archive entry escapes its root: %q", hdr.Name)
		}
		dest, ok := destination(hdr.Name, paths)
		if !ok {
			continue
		}
		tmp, err := stage(dest, tr, fs.FileMode(hdr.Mode).Perm())
		if err != nil {
			cleanup()
			return 0, fmt.Errorf("failed to restore %s: %w", dest, err)
		}
		files = append(files, staged{tmp: tmp, dest: dest})
	}

	if len(files) == 0 {
		return 0, errors.New("archive holds none of the requested paths")
	}
	for i, s := range files {
		if err := os.Rename(s.tmp, s.dest); err != nil {
			for _, rest := range files[i:] {
				_ = os.Remove(rest.tmp)
			}
			return i, err
		}
	}
	return len(files), nil
}

func stage(dest string, r io.Reader, perm fs.FileMode) (string, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".restore-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	if perm == 0 {
		perm = 0o644
	}
	if err := os.Chmod(f.Name(), perm); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func hasDotDot(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// destination maps an entry name written by writeArchive onto paths.
func destination(name string, paths []string) (string, bool) {
	index, rest, _ := strings.Cut(name, "/")
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(paths) {
		return "", false
	}
	if rest == "" {
		return paths[i], true
	}
	return filepath.Join(paths[i], filepath.FromSlash(rest)), true
}
