package file

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// FindByExt walks dir and returns regular files whose extension matches one
// of exts, sorted by path. Hidden directories are skipped.
func FindByExt(dir string, exts ...string) ([]string, error) {
	var found []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && len(d.Name()) > 1 && d.Name()[0] == '.' {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && HasExt(path, exts...) {
			found = append(found, path)
		}
		return nil
	})

	sort.Strings(found)
	return found, err
}
