package download

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/streamdl/streamdl/internal/jobs"
	"github.com/streamdl/streamdl/pkg/file"
	"github.com/streamdl/streamdl/pkg/log"
)

// Full browser identity lowers the odds of a 403 from picky hosts.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const subtitleLangs = "zh,zh-TW,zh-CN,en,en-US,en-GB"

// Minimum spacing between progress callbacks for an unchanged percent.
const progressInterval = 500 * time.Millisecond

var intermediateSuffixRe = regexp.MustCompile(`\.f\d+$`)

type Options struct {
	YtdlpPath   string
	FfmpegPath  string
	CookiesFile string
	MergeFormat string
	BaseDir     string
}

// Tool runs one download attempt per call by driving the yt-dlp binary as a
// subprocess. It implements jobs.Runner.
type Tool struct {
	opts Options
}

func NewTool(opts Options) *Tool {
	if opts.YtdlpPath == "" {
		opts.YtdlpPath = "yt-dlp"
	}
	if opts.FfmpegPath == "" {
		opts.FfmpegPath = "ffmpeg"
	}
	if opts.MergeFormat == "" {
		opts.MergeFormat = "mkv"
	}
	return &Tool{opts: opts}
}

func (t *Tool) Run(ctx context.Context, req jobs.RunRequest, sink jobs.Sink) (jobs.RunResult, error) {
	workDir := filepath.Join(t.opts.BaseDir, req.JobID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return jobs.RunResult{}, jobs.WrapError(err, jobs.ErrExecution, "create job directory")
	}

	res, err := t.run(ctx, req, sink, workDir)
	if err != nil {
		// A failed or cancelled attempt leaves nothing behind.
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Warn("failed to remove job directory %s: %v", workDir, rmErr)
		}
		if ctx.Err() != nil {
			return jobs.RunResult{}, context.Canceled
		}
		return jobs.RunResult{}, err
	}
	return res, nil
}

func (t *Tool) run(ctx context.Context, req jobs.RunRequest, sink jobs.Sink, workDir string) (jobs.RunResult, error) {
	if _, err := exec.LookPath(t.opts.YtdlpPath); err != nil {
		return jobs.RunResult{}, jobs.NewError(jobs.ErrDependencyMissing,
			"yt-dlp was not found on this host; install yt-dlp to enable downloads")
	}
	if req.Kind != jobs.KindSubs {
		if _, err := exec.LookPath(t.opts.FfmpegPath); err != nil {
			return jobs.RunResult{}, jobs.NewError(jobs.ErrDependencyMissing,
				"ffmpeg was not found on this host; merged video downloads require ffmpeg")
		}
	}

	title, description := t.probe(ctx, req.URL)
	if title != "" {
		sink.Title(title)
	}
	if title != "" || description != "" {
		sink.SiteMeta(title, description)
	}
	if ctx.Err() != nil {
		return jobs.RunResult{}, ctx.Err()
	}

	destTitle, err := t.fetch(ctx, req, sink, workDir)
	if err != nil {
		return jobs.RunResult{}, err
	}
	if title == "" && destTitle != "" {
		title = destTitle
		sink.Title(title)
	}

	return collectArtifact(req.Kind, workDir, title)
}

// probe resolves the source title and description before the transfer
// starts, so the caller can show something meaningful early. Probe failures
// are not fatal; the title can still fall back to the output filename.
func (t *Tool) probe(ctx context.Context, rawURL string) (title, description string) {
	args := []string{"--dump-single-json", "--skip-download", "--no-warnings", "--no-playlist"}
	args = append(args, t.commonArgs(rawURL)...)
	args = append(args, rawURL)

	cmd := exec.CommandContext(ctx, t.opts.YtdlpPath, args...)
	output, err := cmd.Output()
	if err != nil {
		log.Warn("metadata probe failed for %s: %v", rawURL, err)
		return "", ""
	}

	var meta struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(output, &meta); err != nil {
		log.Warn("metadata probe returned unparseable output for %s: %v", rawURL, err)
		return "", ""
	}
	return strings.TrimSpace(meta.Title), strings.TrimSpace(meta.Description)
}

// fetch runs the transfer itself, translating the tool's stdout lines into
// progress callbacks. It returns a title candidate derived from the first
// announced destination path.
func (t *Tool) fetch(ctx context.Context, req jobs.RunRequest, sink jobs.Sink, workDir string) (string, error) {
	args := t.fetchArgs(req, workDir)
	cmd := exec.CommandContext(ctx, t.opts.YtdlpPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", jobs.WrapError(err, jobs.ErrExecution, "attach to fetch tool output")
	}
	if err := cmd.Start(); err != nil {
		return "", jobs.WrapError(err, jobs.ErrExecution, "start fetch tool")
	}

	destTitle := ""
	lastPercent := -1
	var lastAt time.Time

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if dest, ok := parseDestination(line); ok {
			if destTitle == "" {
				destTitle = titleFromPath(dest)
			}
			continue
		}
		percent, message, ok := parseProgressLine(line)
		if !ok {
			continue
		}
		// Coalesce rapid updates that carry no new percent.
		now := time.Now()
		if percent == lastPercent && now.Sub(lastAt) < progressInterval {
			continue
		}
		lastPercent = percent
		lastAt = now
		sink.Progress(percent, message)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyRunError(stderr.String(), err)
	}
	return destTitle, nil
}

func (t *Tool) fetchArgs(req jobs.RunRequest, workDir string) []string {
	args := []string{"--newline", "--no-warnings", "--no-playlist"}
	args = append(args, t.commonArgs(req.URL)...)

	outTmpl := filepath.Join(workDir, "%(title)s.%(ext)s")
	switch req.Kind {
	case jobs.KindSubs:
		args = append(args,
			"--skip-download",
			"--write-subs", "--write-auto-subs",
			"--sub-langs", subtitleLangs,
			"--convert-subs", "srt",
			"-o", outTmpl,
		)
	case jobs.KindBoth:
		args = append(args,
			"-f", "bestvideo+bestaudio/best",
			"--merge-output-format", t.opts.MergeFormat,
			"--write-subs", "--write-auto-subs",
			"--sub-langs", subtitleLangs,
			"--convert-subs", "srt",
			"-o", outTmpl,
		)
	default: // video
		args = append(args,
			"-f", "bestvideo+bestaudio/best",
			"--merge-output-format", t.opts.MergeFormat,
			"-o", outTmpl,
		)
	}
	return append(args, req.URL)
}

func (t *Tool) commonArgs(rawURL string) []string {
	args := []string{"--user-agent", browserUserAgent}
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" && u.Host != "" {
		args = append(args, "--referer", fmt.Sprintf("%s://%s/", u.Scheme, u.Host))
	}
	if t.opts.CookiesFile != "" {
		if _, err := os.Stat(t.opts.CookiesFile); err == nil {
			args = append(args, "--cookies", t.opts.CookiesFile)
		}
	}
	return args
}

// collectArtifact inspects the job directory after a successful run and
// selects or bundles the single file to deliver.
func collectArtifact(kind jobs.Kind, workDir, title string) (jobs.RunResult, error) {
	files, err := file.ListFiles(workDir)
	if err != nil {
		return jobs.RunResult{}, jobs.WrapError(err, jobs.ErrExecution, "inspect job directory")
	}
	if len(files) == 0 {
		return jobs.RunResult{}, jobs.NewError(jobs.ErrExecution, "the download produced no files")
	}

	video, subs := splitVideoAndSubs(files)
	if title == "" && video != "" {
		title = titleFromPath(video)
	}
	safe := file.SanitizeName(title)

	switch kind {
	case jobs.KindVideo:
		if video == "" {
			return jobs.RunResult{}, jobs.NewError(jobs.ErrExecution, "no media file was produced")
		}
		return jobs.RunResult{
			ArtifactPath: video,
			ArtifactName: safe + filepath.Ext(video),
			Title:        title,
		}, nil

	case jobs.KindSubs:
		if len(subs) == 0 {
			return jobs.RunResult{}, jobs.NewError(jobs.ErrExecution, "no subtitle files were produced")
		}
		if len(subs) == 1 {
			return jobs.RunResult{
				ArtifactPath: subs[0],
				ArtifactName: filepath.Base(subs[0]),
				Title:        title,
			}, nil
		}
		zipPath := filepath.Join(workDir, safe+"_subtitles.zip")
		if err := zipFiles(zipPath, subs); err != nil {
			return jobs.RunResult{}, jobs.WrapError(err, jobs.ErrExecution, "bundle subtitle files")
		}
		return jobs.RunResult{
			ArtifactPath: zipPath,
			ArtifactName: filepath.Base(zipPath),
			Title:        title,
		}, nil

	default: // both
		zipPath := filepath.Join(workDir, safe+".zip")
		if err := zipFiles(zipPath, files); err != nil {
			return jobs.RunResult{}, jobs.WrapError(err, jobs.ErrExecution, "bundle downloaded files")
		}
		return jobs.RunResult{
			ArtifactPath: zipPath,
			ArtifactName: filepath.Base(zipPath),
			Title:        title,
		}, nil
	}
}

// titleFromPath derives a title from an output filename, dropping the
// extension and any intermediate format suffix like ".f137".
func titleFromPath(path string) string {
	name := filepath.Base(path)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return intermediateSuffixRe.ReplaceAllString(name, "")
}

func classifyRunError(stderrOutput string, err error) error {
	lower := strings.ToLower(stderrOutput)
	if strings.Contains(lower, "ffmpeg not found") ||
		strings.Contains(lower, "ffmpeg is not installed") ||
		(strings.Contains(lower, "ffmpeg") && strings.Contains(lower, "not found")) {
		return jobs.NewError(jobs.ErrDependencyMissing,
			"ffmpeg was not found on this host; merged video downloads require ffmpeg")
	}
	if strings.Contains(lower, "unsupported url") {
		return jobs.NewError(jobs.ErrExecution, "unsupported source")
	}
	if msg := lastErrorLine(stderrOutput); msg != "" {
		return jobs.WrapError(err, jobs.ErrExecution, msg)
	}
	return jobs.WrapError(err, jobs.ErrExecution, "download failed")
}

// lastErrorLine picks the most useful line from the tool's stderr, preferring
// explicit ERROR lines over trailing noise.
func lastErrorLine(stderrOutput string) string {
	lines := strings.Split(stderrOutput, "\n")
	last := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "ERROR:") {
			last = strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
			continue
		}
		if last == "" {
			last = line
		}
	}
	return last
}
