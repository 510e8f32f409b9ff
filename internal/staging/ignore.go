package staging

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignoreRule is one parsed .oxenignore line (§4.6.1): gitignore-compatible
// glob, optional "!" negation, optional trailing "/" for directory-only.
type ignoreRule struct {
	pattern  string
	negated  bool
	dirOnly  bool
	anchored bool
}

// IgnoreSet aggregates the rules from a repository's .oxenignore. Rules are
// evaluated in file order; a later matching rule overrides an earlier one,
// matching gitignore's "last match wins" semantics.
type IgnoreSet struct {
	rules []ignoreRule
}

// LoadIgnoreSet reads <repoRoot>/.oxenignore. A missing file yields an empty,
// always-permissive IgnoreSet — .oxenignore is optional.
func LoadIgnoreSet(repoRoot string) (*IgnoreSet, error) {
	set := &IgnoreSet{}
	f, err := os.Open(filepath.Join(repoRoot, ".oxenignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if rule, ok := parseIgnoreLine(scanner.Text()); ok {
			set.rules = append(set.rules, rule)
		}
	}
	return set, scanner.Err()
}

// IsIgnored reports whether relPath (forward-slash, repo-root-relative)
// matches the ignore set. isDir indicates whether relPath names a directory.
func (s *IgnoreSet) IsIgnored(relPath string, isDir bool) bool {
	ignored := false
	for _, r := range s.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if matchRule(r, relPath) {
			ignored = !r.negated
		}
	}
	return ignored
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t")
	if line == "" || line[0] == '#' {
		return ignoreRule{}, false
	}

	var r ignoreRule
	if line[0] == '!' {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}
	if strings.Contains(strings.TrimPrefix(line, "**/"), "/") {
		r.anchored = true
	}

	r.pattern = line
	return r, line != ""
}

func matchRule(r ignoreRule, relPath string) bool {
	if r.anchored {
		return matchGlob(r.pattern, relPath)
	}

	base := relPath
	if idx := strings.LastIndex(relPath, "/"); idx >= 0 {
		base = relPath[idx+1:]
	}
	return matchGlob(r.pattern, base) || matchGlob(r.pattern, relPath)
}

// matchGlob matches a gitignore-style glob against name, with "**" treated
// as zero or more path components (filepath.Match alone has no such wildcard).
func matchGlob(pattern, name string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, name)
		return matched
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(patParts, nameParts []string) bool {
	pi, ni := 0, 0
	for pi < len(patParts) && ni < len(nameParts) {
		if patParts[pi] == "**" {
			pi++
			if pi >= len(patParts) {
				return true
			}
			for tryNi := ni; tryNi <= len(nameParts); tryNi++ {
				if matchSegments(patParts[pi:], nameParts[tryNi:]) {
					return true
				}
			}
			return false
		}
		matched, _ := filepath.Match(patParts[pi], nameParts[ni])
		if !matched {
			return false
		}
		pi++
		ni++
	}
	for pi < len(patParts) {
		if patParts[pi] != "**" {
			return false
		}
		pi++
	}
	return ni >= len(nameParts)
}
