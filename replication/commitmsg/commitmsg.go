package commitmsg

import (
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	requestKey = "Replication-Request"
	digestKey  = "Diff-Digest"
)

// Trailers identify the replication a commit was produced by.
type Trailers struct {
	RequestID string
	Digest    string
}

// Generate appends the trailer block for tr to subject. The block is
// separated from the subject by a blank line, as git interpret-trailers
// expects.
func Generate(subject string, tr Trailers) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimRight(subject, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(requestKey)
	sb.WriteString(": ")
	sb.WriteString(tr.RequestID)
	sb.WriteByte('\n')
	sb.WriteString(digestKey)
	sb.WriteString(": ")
	sb.WriteString(tr.Digest)
	sb.WriteByte('\n')

	return sb.String()
}

// Extract reads the trailers from msg. ok is false unless both keys are
// present.
func Extract(msg string) (tr Trailers, ok bool) {
	for _, line := range strings.Split(msg, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case requestKey:
			tr.RequestID = value
		case digestKey:
			tr.Digest = value
		}
	}

	if tr.RequestID == "" || tr.Digest == "" {
		if tr.RequestID != "" || tr.Digest != "" {
			log.Warn().
				Str("request_id", tr.RequestID).
				Msg("incomplete replication trailers in commit message")
		}

		return Trailers{}, false
	}

	return tr, true
}

// Matches reports whether msg carries exactly the trailers want.
func Matches(msg string, want Trailers) bool {
	got, ok := Extract(msg)

	return ok && got == want
}
