package util

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".m4v":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".flv":  true,
	".m3u8": true,
	".mpd":  true,
}

// HasVideoExtension reports whether the URL (or bare path) ends in a known
// video or streaming-manifest extension, ignoring any query string.
func HasVideoExtension(raw string) bool {
	s := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		s = u.Path
	}
	return videoExtensions[strings.ToLower(path.Ext(s))]
}

// Host extracts the lowercased hostname (without port) from a URL string.
func Host(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Hostname() == "" {
		return "", errors.New("URL has no host")
	}
	return strings.ToLower(u.Hostname()), nil
}

// ResolveReference resolves a possibly-relative URL against a base URL,
// returning the input unchanged if it is already absolute or the base is
// unparseable.
func ResolveReference(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil || refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// FilenameFromURL extracts the final path element of a URL as a filename.
func FilenameFromURL(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoFilename
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "", ErrNoFilename
	}
	elements := strings.Split(trimmed, "/")
	filename := elements[len(elements)-1]
	// Don't allow "filenames" that are just ".", "..", etc.
	if filename == "" || strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return SanitizeFilename(filename), nil
}

func FilenameFromURLString(s string) (string, error) {
	parsed, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	return FilenameFromURL(parsed)
}

// SanitizeFilename replaces characters that are unsafe in filenames on common
// filesystems with underscores and trims surrounding whitespace and dots.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), " .")
}
