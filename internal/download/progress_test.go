package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantPercent int
		wantOK      bool
	}{
		{
			name:        "download percent",
			line:        "[download]  42.3% of 10.55MiB at 1.21MiB/s ETA 00:05",
			wantPercent: 42,
			wantOK:      true,
		},
		{
			name:        "rounds half up",
			line:        "[download]  42.7% of 10.55MiB at 1.21MiB/s ETA 00:05",
			wantPercent: 43,
			wantOK:      true,
		},
		{
			name:        "complete",
			line:        "[download] 100% of 10.55MiB in 00:08",
			wantPercent: 100,
			wantOK:      true,
		},
		{
			name:        "merger line maps to merging message",
			line:        `[Merger] Merging formats into "clip.mkv"`,
			wantPercent: 100,
			wantOK:      true,
		},
		{
			name:   "destination line is not progress",
			line:   "[download] Destination: /tmp/job/clip.f137.mp4",
			wantOK: false,
		},
		{
			name:   "unrelated line",
			line:   "[youtube] abc: Downloading webpage",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percent, message, ok := parseProgressLine(tt.line)
			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantPercent, percent)
			assert.NotEmpty(t, message)
		})
	}
}

func TestParseProgressLine_MergerMessage(t *testing.T) {
	percent, message, ok := parseProgressLine(`[Merger] Merging formats into "a.mkv"`)
	require.True(t, ok)
	assert.Equal(t, 100, percent)
	assert.Equal(t, "merging files", message)
}

func TestParseDestination(t *testing.T) {
	dest, ok := parseDestination("[download] Destination: /tmp/job-1/My Clip.f137.mp4")
	require.True(t, ok)
	assert.Equal(t, "/tmp/job-1/My Clip.f137.mp4", dest)

	_, ok = parseDestination("[download]  42.3% of 10.55MiB")
	assert.False(t, ok)
}

func TestTitleFromPath(t *testing.T) {
	assert.Equal(t, "My Clip", titleFromPath("/tmp/job-1/My Clip.f137.mp4"))
	assert.Equal(t, "My Clip", titleFromPath("/tmp/job-1/My Clip.mkv"))
	assert.Equal(t, "noext", titleFromPath("noext"))
}
