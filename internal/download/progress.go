package download

import (
	"regexp"
	"strconv"
	"strings"
)

// The fetch tool is run with --newline so every progress update arrives as
// its own stdout line, e.g.
//
//	[download]  42.3% of 10.55MiB at 1.21MiB/s ETA 00:05
//	[download] 100% of 10.55MiB in 00:08
//	[Merger] Merging formats into "clip.mkv"
//	[download] Destination: /tmp/job/clip.f137.mp4
var (
	percentRe     = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)
	destinationRe = regexp.MustCompile(`^\[download\]\s+Destination:\s+(.+)$`)
	mergerRe      = regexp.MustCompile(`^\[(?:Merger|VideoRemuxer|ffmpeg)\]`)
)

// parseProgressLine extracts a (percent, message) pair from one output line.
// Non-progress lines return ok=false.
func parseProgressLine(line string) (percent int, message string, ok bool) {
	line = strings.TrimSpace(line)
	if m := percentRe.FindStringSubmatch(line); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, "", false
		}
		percent = int(f + 0.5)
		if percent > 100 {
			percent = 100
		}
		message = strings.TrimSpace(strings.TrimPrefix(line, "[download]"))
		return percent, message, true
	}
	if mergerRe.MatchString(line) {
		// The tool only merges once every stream is fetched.
		return 100, "merging files", true
	}
	return 0, "", false
}

// parseDestination extracts the output path announced before a transfer
// starts. Used as a title fallback when the metadata probe fails.
func parseDestination(line string) (string, bool) {
	m := destinationRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
