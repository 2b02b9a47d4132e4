package stream

import (
	"os"
	"path/filepath"
	"strings"
)

// Content types and caching policies for served files. Playlists must never
// be cached so players always see the newest window; segment filenames are
// effectively immutable once written and may be cached for a bounded period.
const (
	manifestContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	binaryContentType   = "application/octet-stream"

	manifestCacheControl = "no-cache, no-store, must-revalidate"
	segmentCacheControl  = "public, max-age=3600"
)

func contentTypeFor(name string) string {
	switch filepath.Ext(name) {
	case ".m3u8":
		return manifestContentType
	case ".ts":
		return segmentContentType
	default:
		return binaryContentType
	}
}

func isManifest(name string) bool {
	return filepath.Ext(name) == ".m3u8"
}

// SegmentPath resolves name strictly inside the output directory of the
// stream id. Any attempt to escape the directory, and any missing file, is
// reported as ErrNotFound: from the client's perspective a file outside the
// stream's directory does not exist.
func (s *Service) SegmentPath(id StreamID, name string) (string, error) {
	rec, err := s.registry.Get(id)
	if err != nil {
		return "", err
	}
	full, err := resolveWithin(rec.OutputDir, name)
	if err != nil {
		return "", err
	}
	if fi, err := os.Stat(full); err != nil || fi.IsDir() {
		return "", ErrNotFound
	}
	return full, nil
}

func resolveWithin(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) {
		return "", ErrNotFound
	}
	full := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", ErrNotFound
	}
	return full, nil
}
