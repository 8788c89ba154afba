package playlist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archives"
)

// Expander turns directories and archives into the MIDI files they contain
type Expander struct {
	// CacheDir receives files extracted from archives
	CacheDir string
}

// NewExpander creates an expander that extracts archive members below cacheDir
func NewExpander(cacheDir string) *Expander {
	return &Expander{CacheDir: cacheDir}
}

// Expand returns the file paths path stands for. A plain file expands to
// itself; failures to read a directory or archive fall back to the path
// itself so the caller can still classify it.
func (x *Expander) Expand(ctx context.Context, path string) []string {
	path = Normalize(path)

	info, err := os.Stat(path)
	if err != nil {
		return []string{path}
	}

	if info.IsDir() {
		files, err := expandDir(path)
		if err != nil {
			return []string{path}
		}
		return files
	}

	if IsMIDIName(path) || x.CacheDir == "" {
		return []string{path}
	}

	files, err := x.extractArchive(ctx, path)
	if err != nil || len(files) == 0 {
		return []string{path}
	}
	return files
}

// expandDir walks dir recursively and returns its MIDI files in lexical order
func expandDir(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subdirectory - skip it
			if d != nil && d.IsDir() && p != dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsMIDIName(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// extractArchive extracts the MIDI members of the archive at path into the
// cache and returns their paths. Members that were extracted before are
// reused.
func (x *Expander) extractArchive(ctx context.Context, path string) ([]string, error) {
	archiveFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open archive: %w", err)
	}
	defer archiveFile.Close()

	format, _, err := archives.Identify(ctx, path, archiveFile)
	if err != nil {
		return nil, fmt.Errorf("cannot identify archive format: %w", err)
	}

	extractor, ok := format.(archives.Extractor)
	if !ok {
		return nil, fmt.Errorf("format does not support extraction")
	}

	// Zip and 7z need the original file for seeking, and the other
	// extractors are fine reading from the start again.
	if _, err := archiveFile.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("cannot rewind archive: %w", err)
	}

	destDir := filepath.Join(x.CacheDir, archiveKey(path))
	var files []string

	err = extractor.Extract(ctx, archiveFile, func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() || !IsMIDIName(f.NameInArchive) {
			return nil
		}

		destPath := filepath.Join(destDir, filepath.Clean("/"+f.NameInArchive))
		if !strings.HasPrefix(destPath, destDir+string(filepath.Separator)) {
			return fmt.Errorf("invalid file path: %s", f.NameInArchive)
		}

		if _, err := os.Stat(destPath); err == nil {
			files = append(files, destPath)
			return nil
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
			return err
		}

		if err := copyMember(f, destPath); err != nil {
			return err
		}
		files = append(files, destPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract archive: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

func copyMember(f archives.FileInfo, destPath string) error {
	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	tmpPath := destPath + ".tmp"
	outFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(outFile, srcFile); err != nil {
		outFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := outFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// archiveKey names the cache directory of an archive
func archiveKey(path string) string {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:8])
}
