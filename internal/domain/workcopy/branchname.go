package workcopy

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBranchName is wrapped by every ValidateBranchName failure.
var ErrInvalidBranchName = errors.New("invalid branch name")

// ValidateBranchName applies the rules of `git check-ref-format --branch`.
// A name that passes can never be read as a command-line option.
func ValidateBranchName(name string) error {
	reason := branchNameProblem(name)
	if reason == "" {
		return nil
	}
	return fmt.Errorf("%w %q: %s", ErrInvalidBranchName, name, reason)
}

func branchNameProblem(name string) string {
	switch {
	case name == "":
		return "empty"
	case strings.HasPrefix(name, "-"):
		return "starts with '-'"
	case name == "@" || name == "HEAD":
		return "reserved name"
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return "starts or ends with '/'"
	case strings.HasSuffix(name, "."):
		return "ends with '.'"
	case strings.Contains(name, "//"):
		return "contains '//'"
	case strings.Contains(name, ".."):
		return "contains '..'"
	case strings.Contains(name, "@{"):
		return "contains '@{'"
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Sprintf("contains %q", r)
		}
	}
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return "component starts with '.'"
		}
		if strings.HasSuffix(part, ".lock") {
			return "component ends with '.lock'"
		}
	}
	return ""
}
