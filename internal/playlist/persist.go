package playlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Save writes one path per line in playlist order
func (p *Playlist) Save(w io.Writer) error {
	return Write(w, p.Paths())
}

// SaveFile writes the playlist to path atomically
func (p *Playlist) SaveFile(path string) error {
	return WriteFile(path, p.Paths())
}

// Write writes paths one per line
func Write(w io.Writer, paths []string) error {
	bw := bufio.NewWriter(w)
	for _, path := range paths {
		if _, err := fmt.Fprintln(bw, path); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes paths to a playlist file atomically via temp file + rename
func WriteFile(path string, paths []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create playlist directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create playlist file: %w", err)
	}

	if err := Write(f, paths); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write playlist: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close playlist file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Read parses a playlist file: one path per line, blank lines ignored
func Read(r io.Reader) ([]string, error) {
	var paths []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		paths = append(paths, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

// ReadFile reads the playlist file at path. A missing file is an empty
// playlist.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	defer f.Close()

	paths, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	return paths, nil
}
