package replication

import (
	"fmt"
	"strings"
)

// ValidateBranchName checks name against the subset of
// git check-ref-format rules a request id can break.
func ValidateBranchName(name string) error {
	const errCtx = "validating branch name"

	reason := branchNameProblem(name)
	if reason == "" {
		return nil
	}

	return fmt.Errorf(
		"%s: %q %s: %w",
		errCtx, name, reason, ErrInvalidBranchName,
	)
}

func branchNameProblem(name string) string {
	switch {
	case name == "":
		return "is empty"
	case name == "@":
		return "is a lone @"
	case strings.HasPrefix(name, "-"):
		return "starts with a dash"
	case strings.HasPrefix(name, "/"),
		strings.HasSuffix(name, "/"):
		return "starts or ends with a slash"
	case strings.HasSuffix(name, "."):
		return "ends with a dot"
	case strings.HasSuffix(name, ".lock"):
		return "ends with .lock"
	case strings.Contains(name, ".."):
		return "contains .."
	case strings.Contains(name, "@{"):
		return "contains @{"
	case strings.Contains(name, "//"):
		return "contains //"
	}

	for _, comp := range strings.Split(name, "/") {
		if strings.HasPrefix(comp, ".") {
			return "has a component starting with a dot"
		}
	}

	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "contains a control character"
		}

		if strings.ContainsRune(" ~^:?*[\\", r) {
			return fmt.Sprintf("contains %q", r)
		}
	}

	return ""
}
