package services

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// Filter reports whether a file should be left out of a backup archive.
// relPath uses forward slashes and is relative to the data directory.
type Filter func(relPath string, info fs.FileInfo) bool

// AnyOf excludes a file when any of the given filters excludes it.
func AnyOf(filters ...Filter) Filter {
	return func(relPath string, info fs.FileInfo) bool {
		for _, f := range filters {
			if f != nil && f(relPath, info) {
				return true
			}
		}
		return false
	}
}

// ExcludeExtensions drops files whose extension contains any of the markers,
// e.g. "bak" matches both "x.bak" and "x.arkbak".
func ExcludeExtensions(markers ...string) Filter {
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimPrefix(m, ".")); m != "" {
			lowered = append(lowered, m)
		}
	}
	return func(relPath string, _ fs.FileInfo) bool {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
		if ext == "" {
			return false
		}
		for _, m := range lowered {
			if strings.Contains(ext, m) {
				return true
			}
		}
		return false
	}
}

// ExcludeGlobs drops files whose relative path or base name matches a pattern.
func ExcludeGlobs(patterns ...string) Filter {
	return func(relPath string, _ fs.FileInfo) bool {
		base := path.Base(relPath)
		for _, p := range patterns {
			if ok, _ := path.Match(p, relPath); ok {
				return true
			}
			if ok, _ := path.Match(p, base); ok {
				return true
			}
		}
		return false
	}
}

// KeepCanonical keeps exactly the named file among its same-named variants.
// For "Fjordur.ark" every other "*Fjordur*.ark" file (rotated copies the
// server writes next to the live map) is dropped.
func KeepCanonical(canonical ...string) Filter {
	type group struct{ name, stem, ext string }
	groups := make([]group, 0, len(canonical))
	for _, c := range canonical {
		c = filepath.Base(c)
		ext := path.Ext(c)
		groups = append(groups, group{name: c, stem: strings.TrimSuffix(c, ext), ext: ext})
	}
	return func(relPath string, _ fs.FileInfo) bool {
		base := path.Base(relPath)
		for _, g := range groups {
			if base == g.name || g.stem == "" {
				continue
			}
			if strings.EqualFold(path.Ext(base), g.ext) && strings.Contains(base, g.stem) {
				return true
			}
		}
		return false
	}
}
