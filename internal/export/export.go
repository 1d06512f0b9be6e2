// Package export writes chat history as plaintext, one line per turn:
//
//	[15:04:05] user: message text
//
// Backslashes, newlines and carriage returns inside a message are escaped
// as \\, \n and \r so every turn stays on a single line.
package export

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"LocalChat/internal/session"
)

// TimeLayout is the clock format used in exported lines
const TimeLayout = "15:04:05"

// Error is returned when the export file cannot be written or read.
// History is never affected by one.
type Error struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("export %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Line is one parsed export line. Only the clock time survives the format.
type Line struct {
	Clock string
	Role  session.Role
	Text  string
}

var (
	escaper     = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	linePattern = regexp.MustCompile(`^\[(\d{2}:\d{2}:\d{2})\] (user|assistant): (.*)$`)
)

// FormatLine renders a turn as a single export line without the trailing newline
func FormatLine(t session.Turn) string {
	return fmt.Sprintf("[%s] %s: %s", t.Timestamp.Format(TimeLayout), t.Role, escaper.Replace(t.Text))
}

// Encode writes turns to w in order
func Encode(w io.Writer, turns []session.Turn) error {
	bw := bufio.NewWriter(w)
	for _, t := range turns {
		if _, err := bw.WriteString(FormatLine(t) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile creates or truncates path and writes turns to it.
// The parent directory must already exist.
func WriteFile(path string, turns []session.Turn) error {
	var buf bytes.Buffer
	if err := Encode(&buf, turns); err != nil {
		return &Error{Path: path, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

// Decode parses export lines from r
func Decode(r io.Reader) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		m := linePattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			return nil, fmt.Errorf("line %d: not an export line", n)
		}
		lines = append(lines, Line{
			Clock: m[1],
			Role:  session.Role(m[2]),
			Text:  unescape(m[3]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReadFile parses an export file
func ReadFile(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	lines, err := Decode(f)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return lines, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
