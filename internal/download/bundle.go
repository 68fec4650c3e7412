package download

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extension sets used to split a job's output files into the media file and
// its subtitle companions.
var (
	videoExts = map[string]bool{
		".mp4": true, ".mkv": true, ".webm": true, ".avi": true,
		".mov": true, ".flv": true, ".m4a": true,
	}
	subtitleExts = map[string]bool{
		".srt": true, ".vtt": true, ".ass": true, ".ssa": true,
	}
)

// splitVideoAndSubs picks the first media file and collects subtitle files
// from a sorted file list.
func splitVideoAndSubs(files []string) (video string, subs []string) {
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		switch {
		case videoExts[ext] && video == "":
			video = f
		case subtitleExts[ext]:
			subs = append(subs, f)
		}
	}
	return video, subs
}

// zipFiles bundles the given files into a new archive at zipPath, flattening
// paths to base names.
func zipFiles(zipPath string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, path := range files {
		if err := addToZip(zw, path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addToZip(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(dst, src)
	return err
}
