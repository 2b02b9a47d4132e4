package stream

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Manifest is a parsed view of an HLS playlist as written by the encoder.
// Only the segment references are extracted; tag lines are skipped.
type Manifest struct {
	SegmentURIs []string
}

// SegmentCount returns the number of segments currently referenced.
func (m *Manifest) SegmentCount() int {
	return len(m.SegmentURIs)
}

// loadManifest reads and parses the playlist in a stream's output directory.
// A missing file is reported as-is so callers can distinguish "not written
// yet" from a parse problem.
func loadManifest(outputDir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(outputDir, manifestName))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseManifest(f)
}

// parseManifest collects segment URIs from a live playlist. A URI line is
// any non-empty line that does not start with '#'.
func parseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.SegmentURIs = append(m.SegmentURIs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// manifestReady reports whether the playlist in outputDir references at
// least one segment. Mere existence is not enough: the encoder creates the
// file before the first segment completes.
func manifestReady(outputDir string) bool {
	m, err := loadManifest(outputDir)
	return err == nil && m.SegmentCount() > 0
}
