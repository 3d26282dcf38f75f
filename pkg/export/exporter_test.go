package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Statement",
		Headers: []string{"Date", "Description", "Hours"},
		Rows: []map[string]string{
			{"Date": "2026-10-01", "Description": "release night", "Hours": "8"},
			{"Date": "2026-10-09", "Description": "time off", "Hours": "-6"},
		},
		Summary: [][2]string{{"Available", "2.00"}},
	}
}

func TestCSVRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date,Description,Hours", lines[0])
	assert.Equal(t, "2026-10-09,time off,-6", lines[2])
	assert.Equal(t, "Available,,2.00", lines[3])
}

func TestCSVRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
