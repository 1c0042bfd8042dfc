package corpus

import (
	"path"
	"strings"
)

// matchDir reports whether the slash-separated directory relPath matches
// pattern. Supported forms: "**/name/**", "dir/**" and an exact path.
func matchDir(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		name := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		if strings.ContainsAny(name, "*?[") {
			return false
		}
		for _, part := range strings.Split(relPath, "/") {
			if part == name {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+"/")
	}

	return relPath == pattern || strings.HasPrefix(relPath, pattern+"/")
}

// matchFile reports whether the file at relPath matches pattern.
// Directory patterns also match files below the directory.
func matchFile(relPath, pattern string) bool {
	base := path.Base(relPath)

	if strings.HasSuffix(pattern, "/**") {
		dir := path.Dir(relPath)
		return dir != "." && matchDir(dir, pattern)
	}

	if strings.HasPrefix(pattern, "**/") {
		rest := strings.TrimPrefix(pattern, "**/")
		if ok, err := path.Match(rest, base); err == nil && ok {
			return true
		}
		// "**/docs/*.md" style: match the tail of the path.
		if strings.Contains(rest, "/") {
			parts := strings.Split(relPath, "/")
			depth := strings.Count(rest, "/") + 1
			if len(parts) >= depth {
				tail := strings.Join(parts[len(parts)-depth:], "/")
				ok, err := path.Match(rest, tail)
				return err == nil && ok
			}
		}
		return false
	}

	if strings.Contains(pattern, "/") {
		ok, err := path.Match(pattern, relPath)
		return err == nil && ok
	}

	ok, err := path.Match(pattern, base)
	return err == nil && ok
}
