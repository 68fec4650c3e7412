package file

import "strings"

const fallbackName = "video"

var illegalFilenameChars = []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"}

// SanitizeName replaces characters that are illegal in filenames with
// underscores. An empty or all-illegal name falls back to a generic one.
func SanitizeName(name string) string {
	for _, c := range illegalFilenameChars {
		name = strings.ReplaceAll(name, c, "_")
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.Trim(name, "_") == "" {
		return fallbackName
	}
	return name
}
