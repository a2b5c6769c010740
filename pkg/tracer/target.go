package tracer

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrNoTarget = errors.New("no process to trace")

// FindTarget picks the process whose file accesses are recorded: the
// explicit pid if set, else the newest process under procRoot whose command
// line contains pattern, else the parent of this process.
func FindTarget(procRoot, pattern string, explicit int) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if pattern != "" {
		if pid, ok := findByCmdline(procRoot, pattern); ok {
			return pid, nil
		}
	}
	if ppid := os.Getppid(); ppid > 1 {
		return ppid, nil
	}
	return 0, ErrNoTarget
}

func findByCmdline(procRoot, pattern string) (int, bool) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return 0, false
	}
	self := os.Getpid()
	var (
		best      int
		bestStart uint64
	)
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(procRoot, e.Name(), "cmdline"))
		if err != nil || len(raw) == 0 {
			continue
		}
		cmdline := string(bytes.ReplaceAll(bytes.TrimRight(raw, "\x00"), []byte{0}, []byte{' '}))
		if !strings.Contains(cmdline, pattern) {
			continue
		}
		start := startTime(procRoot, e.Name())
		if best == 0 || start > bestStart || (start == bestStart && pid > best) {
			best, bestStart = pid, start
		}
	}
	return best, best != 0
}

// startTime reads field 22 of /proc/<pid>/stat. The command name in field 2
// may contain spaces, so fields are counted from its closing parenthesis.
func startTime(procRoot, pid string) uint64 {
	raw, err := os.ReadFile(filepath.Join(procRoot, pid, "stat"))
	if err != nil {
		return 0
	}
	i := bytes.LastIndexByte(raw, ')')
	if i < 0 {
		return 0
	}
	fields := strings.Fields(string(raw[i+1:]))
	if len(fields) < 20 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[19], 10, 64)
	return v
}
