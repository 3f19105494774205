package github

import (
	"errors"
	"strings"
)

// ErrInvalidRef is returned for references that do not name owner/repo.
var ErrInvalidRef = errors.New("invalid GitHub URL format")

// Ref is a parsed repository reference. Host is empty for the bare
// "owner/repo" form.
type Ref struct {
	Host  string
	Owner string
	Repo  string
}

// ParseRef accepts https://host/owner/repo[.git][/...], host/owner/repo,
// git@host:owner/repo.git and owner/repo.
func ParseRef(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, ErrInvalidRef
	}
	if strings.HasPrefix(s, "git@") {
		s = strings.Replace(strings.TrimPrefix(s, "git@"), ":", "/", 1)
	} else if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}

	var parts []string
	for _, p := range strings.Split(s, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	var ref Ref
	switch {
	case len(parts) == 2 && !strings.Contains(parts[0], "."):
		ref = Ref{Owner: parts[0], Repo: parts[1]}
	case len(parts) >= 3:
		host := strings.ToLower(parts[0])
		host = strings.TrimPrefix(host, "www.")
		ref = Ref{Host: host, Owner: parts[1], Repo: parts[2]}
	default:
		return Ref{}, ErrInvalidRef
	}
	ref.Repo = strings.TrimSuffix(ref.Repo, ".git")
	if !validName(ref.Owner) || !validName(ref.Repo) {
		return Ref{}, ErrInvalidRef
	}
	return ref, nil
}

func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
