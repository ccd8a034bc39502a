package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker resolves a source location to the local files it names. A location
// is either a plain path or a doublestar pattern such as
// "pages/**/bills-*.html".
type Walker struct {
	excludes []string
}

func NewWalker(excludes []string) *Walker {
	return &Walker{excludes: excludes}
}

type FileInfo struct {
	Path    string
	ModTime int64
	Size    int64
}

// Walk returns the matching regular files in lexical order.
func (w *Walker) Walk(location string) ([]FileInfo, error) {
	var paths []string

	if info, err := os.Stat(location); err == nil && !info.IsDir() {
		paths = []string{location}
	} else {
		pattern := filepath.ToSlash(location)
		if err == nil && info.IsDir() {
			pattern = pattern + "/**/*.htm*"
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid source pattern: %s", location)
		}
		matches, gerr := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if gerr != nil {
			return nil, fmt.Errorf("failed to glob %s: %w", location, gerr)
		}
		paths = matches
	}

	var files []FileInfo
	for _, path := range paths {
		if w.shouldExclude(filepath.ToSlash(path)) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		files = append(files, FileInfo{
			Path:    path,
			ModTime: info.ModTime().Unix(),
			Size:    info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (w *Walker) shouldExclude(path string) bool {
	for _, pattern := range w.excludes {
		matched, err := doublestar.Match(pattern, path)
		if err == nil && matched {
			return true
		}
	}
	return false
}
