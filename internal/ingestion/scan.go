package ingestion

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/54b3r/docsearch-go/internal/parser"
)

// DefaultExcludes skips hidden files and directories and dependency trees.
var DefaultExcludes = []string{"**/.*", "**/node_modules"}

// DefaultIncludes matches every supported extension at any depth.
func DefaultIncludes() []string {
	return []string{"**/*.{" + strings.Join(parser.SupportedExtensions(), ",") + "}"}
}

// Scanner lists the files under a root that match include globs and no
// exclude glob. Globs use doublestar syntax against slash-separated paths
// relative to the root; include globs are matched case-insensitively.
type Scanner struct {
	includes []string
	excludes []string
}

// NewScanner returns a Scanner. Empty includes or excludes select the defaults.
func NewScanner(includes, excludes []string) *Scanner {
	if len(includes) == 0 {
		includes = DefaultIncludes()
	}
	if excludes == nil {
		excludes = DefaultExcludes
	}
	return &Scanner{includes: includes, excludes: excludes}
}

// Scan walks root recursively and returns matching file paths in lexical order.
func (s *Scanner) Scan(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.included(rel) && !s.excluded(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (s *Scanner) included(rel string) bool {
	lower := strings.ToLower(rel)
	for _, pattern := range s.includes {
		if ok, err := doublestar.Match(pattern, lower); err == nil && ok {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.excludes {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
