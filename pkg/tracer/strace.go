package tracer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// straceSyscalls are the calls the strace backend filters for.
var straceSyscalls = []string{"open", "openat", "openat2", "creat"}

var errUnterminated = errors.New("unterminated string")

// straceArgs builds the strace command line attaching to pid. -y annotates
// descriptors with their paths, which lets dirfd-relative opens be resolved.
func straceArgs(logPath string, pid int) []string {
	return []string{
		"-f", "-y", "-qq",
		"-e", "trace=" + strings.Join(straceSyscalls, ","),
		"-o", logPath,
		"-p", strconv.Itoa(pid),
	}
}

// StraceParser reads logs written by strace -f -y.
type StraceParser struct{}

func (StraceParser) Parse(r io.Reader) ([]Event, []Issue, error) {
	var (
		events []Event
		issues []Issue
	)
	// pending maps a pid to the index of its unfinished call in events.
	// strace -f suspends a call when another process writes a line and
	// finishes it later with a "<... resumed>" line from the same pid.
	pending := make(map[int]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if pid, op, rest, ok := parseResumedLine(line); ok {
			idx, found := pending[pid]
			if !found || events[idx].Op != op {
				continue
			}
			delete(pending, pid)
			resume(&events[idx], rest)
			continue
		}
		ev, ok, err := parseStraceLine(line)
		if err != nil {
			issues = append(issues, Issue{Line: n, Text: line, Reason: err.Error()})
			continue
		}
		if ok {
			ev.Line = n
			if ev.Unfinished {
				pending[ev.PID] = len(events)
			}
			events = append(events, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return events, issues, fmt.Errorf("failed to read trace log: %w", err)
	}
	return events, issues, nil
}

// parseResumedLine matches "<... openat resumed>, O_RDONLY) = 3</p>" and
// returns the text after the marker.
func parseResumedLine(line string) (pid int, op, rest string, ok bool) {
	var s string
	s, pid = stripPID(strings.TrimSpace(line))
	if !strings.HasPrefix(s, "<... ") {
		return 0, "", "", false
	}
	s = s[len("<... "):]
	end := strings.Index(s, " resumed>")
	if end <= 0 || !isTracedSyscall(s[:end]) {
		return 0, "", "", false
	}
	return pid, s[:end], strings.TrimLeft(s[end+len(" resumed>"):], " "), true
}

// resume completes an unfinished event with the rest of its call.
func resume(ev *Event, rest string) {
	ev.Unfinished = false
	if ev.Flags == "" && strings.HasPrefix(rest, ", ") {
		flags := rest[2:]
		if end := strings.IndexAny(flags, ",) "); end >= 0 {
			flags = flags[:end]
		}
		ev.Flags = strings.TrimPrefix(flags, "{flags=")
	}
	if i := strings.LastIndex(rest, ") = "); i >= 0 {
		parseResult(rest[i+4:], ev)
	}
}

func isTracedSyscall(name string) bool {
	for _, s := range straceSyscalls {
		if s == name {
			return true
		}
	}
	return false
}

// parseStraceLine decodes one line. ok is false for lines that carry no
// file access: signals, exits, resumed calls and other syscalls.
func parseStraceLine(line string) (ev Event, ok bool, err error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return ev, false, nil
	}
	s, ev.PID = stripPID(s)
	if strings.HasPrefix(s, "<...") || strings.HasPrefix(s, "+++") || strings.HasPrefix(s, "---") {
		return ev, false, nil
	}
	open := strings.IndexByte(s, '(')
	if open <= 0 || !isTracedSyscall(s[:open]) {
		return ev, false, nil
	}
	ev.Op = s[:open]
	rest := s[open+1:]

	if ev.Op == "openat" || ev.Op == "openat2" {
		rest, err = parseDirFD(rest, &ev)
		if err != nil {
			return ev, false, err
		}
		if !strings.HasPrefix(rest, ", ") {
			return ev, false, errors.New("missing path argument")
		}
		rest = rest[2:]
	}

	if !strings.HasPrefix(rest, `"`) {
		return ev, false, errors.New("path argument is not a string")
	}
	path, n, err := decodeUntil(rest[1:], '"')
	if err != nil {
		return ev, false, err
	}
	rest = rest[1+n:]
	if strings.HasPrefix(rest, "...") {
		return ev, false, errors.New("path truncated")
	}
	if path == "" {
		return ev, false, nil
	}
	ev.Path = path

	if strings.HasPrefix(rest, ", ") {
		flags := rest[2:]
		if end := strings.IndexAny(flags, ",) "); end >= 0 {
			flags = flags[:end]
		}
		ev.Flags = strings.TrimPrefix(flags, "{flags=")
	}

	switch {
	case strings.Contains(rest, "<unfinished ...>"):
		ev.Unfinished = true
	default:
		if i := strings.LastIndex(rest, ") = "); i >= 0 {
			parseResult(rest[i+4:], &ev)
		}
	}
	return ev, true, nil
}

// stripPID removes the "[pid N] " or "N " prefix strace adds with -f.
func stripPID(s string) (string, int) {
	if strings.HasPrefix(s, "[pid ") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return s, 0
		}
		pid, _ := strconv.Atoi(strings.TrimSpace(s[5:end]))
		return strings.TrimSpace(s[end+1:]), pid
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) || s[i] != ' ' {
		return s, 0
	}
	pid, _ := strconv.Atoi(s[:i])
	return strings.TrimLeft(s[i:], " "), pid
}

func parseDirFD(s string, ev *Event) (string, error) {
	switch {
	case strings.HasPrefix(s, "AT_FDCWD"):
		ev.DirFD = "AT_FDCWD"
		s = s[len("AT_FDCWD"):]
	default:
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return s, errors.New("unrecognised directory descriptor")
		}
		ev.DirFD = s[:i]
		s = s[i:]
	}
	if strings.HasPrefix(s, "<") {
		dir, n, err := decodeUntil(s[1:], '>')
		if err != nil {
			return s, fmt.Errorf("directory annotation: %w", err)
		}
		ev.Dir = dir
		s = s[1+n:]
	}
	return s, nil
}

// parseResult reads "3</abs/path>" or "-1 ENOENT (...)".
func parseResult(s string, ev *Event) {
	if strings.HasPrefix(s, "-1 ") {
		if fields := strings.Fields(s[3:]); len(fields) > 0 {
			ev.Err = fields[0]
		}
		return
	}
	i := strings.IndexByte(s, '<')
	if i <= 0 {
		return
	}
	if _, err := strconv.Atoi(s[:i]); err != nil {
		return
	}
	if p, _, err := decodeUntil(s[i+1:], '>'); err == nil {
		ev.Resolved = p
	}
}

// decodeUntil decodes C-style escapes in s up to the first unescaped term.
// It returns the decoded text and the number of bytes consumed, including
// the terminator.
func decodeUntil(s string, term byte) (string, int, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == term {
			return b.String(), i + 1, nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", 0, errUnterminated
		}
		switch e := s[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'v':
			b.WriteByte('\v')
		case 'f':
			b.WriteByte('\f')
		case '\\', '"', '\'', '<', '>':
			b.WriteByte(e)
		case 'x':
			if i+2 >= len(s) {
				return "", 0, errUnterminated
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", 0, fmt.Errorf("bad hex escape %q", s[i-1:i+3])
			}
			b.WriteByte(byte(v))
			i += 2
		default:
			if e < '0' || e > '7' {
				return "", 0, fmt.Errorf("unknown escape \\%c", e)
			}
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			v, err := strconv.ParseUint(s[i:j], 8, 8)
			if err != nil {
				return "", 0, fmt.Errorf("bad octal escape %q", s[i-1:j])
			}
			b.WriteByte(byte(v))
			i = j - 1
		}
	}
	return "", 0, errUnterminated
}
