package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kerrors "github.com/PolarWolf314/muna/internal/errors"

	"github.com/bmatcuk/doublestar/v4"
)

// EncryptedExt is appended to media files by `muna media encrypt`.
const EncryptedExt = ".muna"

// ResolveFiles expands paths, directories and globs (including **) relative to
// baseDir. With forEncryption set it returns plain files, otherwise files
// ending in EncryptedExt. Results are deduplicated in first-seen order.
func ResolveFiles(patterns []string, baseDir string, forEncryption bool) ([]string, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("no files given")
	}

	var files []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		resolved, err := resolvePattern(pattern, baseDir, forEncryption)
		if err != nil {
			return nil, err
		}
		for _, f := range resolved {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	if len(files) == 0 {
		return nil, kerrors.ErrNoFilesFound
	}
	return files, nil
}

func resolvePattern(pattern, baseDir string, forEncryption bool) ([]string, error) {
	abs := pattern
	if !filepath.IsAbs(pattern) {
		abs = filepath.Join(baseDir, pattern)
	}

	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return filesInDir(abs, forEncryption)
	}

	if strings.ContainsAny(pattern, "*?[{") {
		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
		var out []string
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			if wanted(m, forEncryption) {
				out = append(out, m)
			}
		}
		return out, nil
	}

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", kerrors.ErrFileNotFound, pattern)
	}
	if !wanted(abs, forEncryption) {
		if forEncryption {
			return nil, fmt.Errorf("file is already encrypted: %s", pattern)
		}
		return nil, fmt.Errorf("file is not a %s file: %s", EncryptedExt, pattern)
	}
	return []string{abs}, nil
}

func filesInDir(dir string, forEncryption bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if wanted(path, forEncryption) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func wanted(path string, forEncryption bool) bool {
	return strings.HasSuffix(path, EncryptedExt) != forEncryption
}

// EncryptedPath returns the output path for an encrypted media file.
func EncryptedPath(path string) string {
	return path + EncryptedExt
}

// DecryptedPath strips EncryptedExt from path.
func DecryptedPath(path string) string {
	return strings.TrimSuffix(path, EncryptedExt)
}
