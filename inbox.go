package nats

import (
	"crypto/rand"
	"strings"
)

// inboxPrefix is the default reply-subject namespace (spec.md §6 Inbox
// format): "_INBOX.<22-char-token>.".
const inboxPrefix = "_INBOX."

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// randToken generates an n-character base62 token using crypto/rand. NUID
// proper is listed in spec.md §1 as an out-of-scope external collaborator
// (assumed to exist); this is the minimal internal stand-in used only for
// constructing unique inbox subjects, not a general-purpose NUID
// reimplementation.
func randToken(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; fall back to a fixed-but-unique-enough pattern
		// rather than panicking out of a hot path.
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	for _, b := range buf {
		sb.WriteByte(base62Alphabet[int(b)%len(base62Alphabet)])
	}
	return sb.String()
}

// newInboxPrefix returns a fresh per-connection inbox root,
// "_INBOX.<22-char-token>.".
func newInboxPrefix() string {
	return inboxPrefix + randToken(22) + "."
}

// NewInbox returns a unique reply subject under the given connection's
// inbox root.
func (nc *Conn) NewInbox() string {
	return nc.inboxPrefix + randToken(8)
}
