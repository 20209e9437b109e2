package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backups", "insights.jsonl")

	w, err := NewBackupWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleInsight("AAPL", 2023)))
	require.NoError(t, w.Append(sampleInsight("MSFT", 2023)))
	require.NoError(t, w.Close())

	ins, err := ReadBackup(path)
	require.NoError(t, err)
	require.Len(t, ins, 2)
	assert.Equal(t, "AAPL", ins[0].Ticker)
	assert.Equal(t, "MSFT", ins[1].Ticker)
	require.Len(t, ins[0].MacroConcerns, 3)
	assert.Nil(t, ins[0].MacroConcerns[2])
}

func TestBackupSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.jsonl")

	w, err := NewBackupWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleInsight("AAPL", 2023)))
	require.NoError(t, w.Close())

	w, err = NewBackupWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleInsight("AAPL", 2022)))
	require.NoError(t, w.Close())

	ins, err := ReadBackup(path)
	require.NoError(t, err)
	assert.Len(t, ins, 2)
}

func TestReadBackup_LaterLinesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.jsonl")

	w, err := NewBackupWriter(path)
	require.NoError(t, err)

	first := sampleInsight("NVDA", 2024)
	first.MDASentimentScore = 4
	require.NoError(t, w.Append(first))

	second := sampleInsight("NVDA", 2024)
	second.MDASentimentScore = 9
	require.NoError(t, w.Append(second))
	require.NoError(t, w.Close())

	ins, err := ReadBackup(path)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Equal(t, 9, ins[0].MDASentimentScore)
}

func TestReadBackup_SkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.jsonl")
	w, err := NewBackupWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(sampleInsight("AAPL", 2023)))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ins, err := ReadBackup(path)
	require.NoError(t, err)
	assert.Len(t, ins, 1)
}

func TestReadBackup_MalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insights.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not json\n", 2)), 0o644))

	_, err := ReadBackup(path)
	require.Error(t, err)
}
