//go:build linux

package tracer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	clog "github.com/xrsl/skipper/pkg/log"
)

const inotifyMask = unix.IN_OPEN | unix.IN_ACCESS | unix.IN_MODIFY | unix.IN_ATTRIB

// InotifyObserver watches every directory under Root and writes each file
// path it sees accessed to Out, once. Directories created after Run starts
// are not watched: only files present at checkout matter.
type InotifyObserver struct {
	Root    string
	Exclude []string
	Out     io.Writer
}

func (o *InotifyObserver) Run(ctx context.Context) error {
	// Enumerate first: adding watches generates events of its own.
	dirs, err := o.directories()
	if err != nil {
		return err
	}

	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	defer func() { _ = unix.Close(fd) }()

	names := make(map[int32]string, len(dirs))
	for _, dir := range dirs {
		wd, err := unix.InotifyAddWatch(fd, dir, inotifyMask)
		if err != nil {
			clog.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		names[int32(wd)] = dir
	}
	clog.Debug("inotify watches registered", "dirs", len(names))

	seen := make(map[string]struct{})
	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("inotify poll: %w", err)
		}
		if n == 0 {
			continue
		}
		n, err = unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("inotify read: %w", err)
		}
		for _, path := range decodeInotify(buf[:n], names) {
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			if _, err := fmt.Fprintln(o.Out, path); err != nil {
				return err
			}
		}
	}
}

func (o *InotifyObserver) directories() ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(o.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" || excluded(path, o.Exclude) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate %s: %w", o.Root, err)
	}
	return dirs, nil
}

// decodeInotify returns the file paths named by a buffer of inotify events.
// Directory events and events without a name are dropped.
func decodeInotify(buf []byte, names map[int32]string) []string {
	var paths []string
	for off := 0; off+unix.SizeofInotifyEvent <= len(buf); {
		wd := int32(binary.NativeEndian.Uint32(buf[off:]))
		mask := binary.NativeEndian.Uint32(buf[off+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))
		start := off + unix.SizeofInotifyEvent
		off = start + nameLen
		if off > len(buf) {
			break
		}
		if mask&unix.IN_Q_OVERFLOW != 0 {
			clog.Warn("inotify queue overflowed, accesses were lost")
			continue
		}
		name := strings.TrimRight(string(buf[start:off]), "\x00")
		dir, ok := names[wd]
		if mask&unix.IN_ISDIR != 0 || name == "" || !ok {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}
