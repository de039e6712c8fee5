package repo

import (
	"fmt"
	"regexp"
	"strings"
)

// importPathPattern is the canonical three-segment repository reference,
// e.g. "github.com/owner/project".
var importPathPattern = regexp.MustCompile(`^[\w\-.]+/[\w\-.]+/[\w\-.]+$`)

// NormalizeRef converts a repository reference into the canonical
// import-path form the session server addresses rooms by. Accepted inputs:
//
//	github.com/owner/project          (already canonical)
//	https://github.com/owner/project.git
//	git@github.com:owner/project.git
func NormalizeRef(input string) (string, error) {
	ref := strings.TrimSpace(input)

	if importPathPattern.MatchString(ref) {
		return ref, nil
	}

	switch {
	case strings.HasPrefix(ref, "https://"), strings.HasPrefix(ref, "http://"):
		ref = strings.TrimPrefix(ref, "https://")
		ref = strings.TrimPrefix(ref, "http://")
		ref = strings.TrimSuffix(ref, ".git")
	case strings.HasPrefix(ref, "git@"):
		ref = strings.TrimPrefix(ref, "git@")
		ref = strings.Replace(ref, ":", "/", 1)
		ref = strings.TrimSuffix(ref, ".git")
	}

	if !importPathPattern.MatchString(ref) {
		return "", fmt.Errorf("repository reference %q is not a git URL or host/owner/project path", input)
	}
	return ref, nil
}
