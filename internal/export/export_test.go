package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalChat/internal/session"
)

func at(clock string, role session.Role, text string) session.Turn {
	ts, err := time.Parse(TimeLayout, clock)
	if err != nil {
		panic(err)
	}
	return session.Turn{Role: role, Text: text, Timestamp: ts}
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(at("09:05:07", session.RoleUser, "hello"))
	assert.Equal(t, "[09:05:07] user: hello", line)
}

func TestFormatLine_EscapesLineBreaks(t *testing.T) {
	line := FormatLine(at("10:00:00", session.RoleAssistant, "one\ntwo\r\nC:\\dir"))
	assert.Equal(t, `[10:00:00] assistant: one\ntwo\r\nC:\\dir`, line)
	assert.NotContains(t, line, "\n")
}

func TestWriteFile_RoundTrip(t *testing.T) {
	turns := []session.Turn{
		at("10:00:00", session.RoleUser, "first"),
		at("10:00:05", session.RoleAssistant, "multi\nline with a \\n literal"),
		at("10:01:00", session.RoleUser, ""),
	}
	path := filepath.Join(t.TempDir(), "chat.txt")

	require.NoError(t, WriteFile(path, turns))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n"), len(turns))

	lines, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, lines, len(turns))
	for i, turn := range turns {
		assert.Equal(t, turn.Timestamp.Format(TimeLayout), lines[i].Clock)
		assert.Equal(t, turn.Role, lines[i].Role)
		assert.Equal(t, turn.Text, lines[i].Text)
	}
}

func TestWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.txt")
	require.NoError(t, os.WriteFile(path, []byte("old content that is longer\n"), 0o644))

	require.NoError(t, WriteFile(path, []session.Turn{at("08:00:00", session.RoleUser, "new")}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[08:00:00] user: new\n", string(raw))
}

func TestWriteFile_EmptyHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, WriteFile(path, nil))

	lines, err := ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestWriteFile_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "chat.txt")

	err := WriteFile(path, []session.Turn{at("08:00:00", session.RoleUser, "x")})

	var ee *Error
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, path, ee.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode_RejectsForeignLines(t *testing.T) {
	_, err := Decode(strings.NewReader("[10:00:00] user: ok\nrandom text\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestUnescape_KeepsUnknownEscapes(t *testing.T) {
	assert.Equal(t, `a\tb`, unescape(`a\tb`))
	assert.Equal(t, `trailing\`, unescape(`trailing\`))
}
