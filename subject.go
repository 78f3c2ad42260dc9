package nats

import "strings"

// subjectValidate reports whether subject is a well-formed publish/
// subscribe subject: a non-empty sequence of dot-separated tokens with no
// empty tokens. Wildcards are only valid in subscribe subjects;
// subjectValidateLiteral rejects them for publishing.
func subjectValidate(subject string) bool {
	if subject == "" {
		return false
	}
	if subject[0] == '.' || subject[len(subject)-1] == '.' {
		return false
	}
	prevDot := false
	for i := 0; i < len(subject); i++ {
		c := subject[i]
		if c == ' ' || c == '\r' || c == '\n' || c == '\t' {
			return false
		}
		if c == '.' {
			if prevDot {
				return false
			}
			prevDot = true
		} else {
			prevDot = false
		}
	}
	return true
}

// subjectValidateLiteral reports whether subject is valid for publishing:
// well-formed and free of the `*`/`>` wildcard tokens.
func subjectValidateLiteral(subject string) bool {
	if !subjectValidate(subject) {
		return false
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return false
		}
	}
	return true
}

// subjectMatches reports whether literal (a publish subject with no
// wildcards) matches pattern (a subscribe subject that may contain `*`
// single-token wildcards and a trailing `>` rest-of-subject wildcard).
func subjectMatches(literal, pattern string) bool {
	litToks := strings.Split(literal, ".")
	patToks := strings.Split(pattern, ".")

	for i, pt := range patToks {
		if pt == ">" {
			// '>' must be the last token and matches one or more
			// remaining tokens.
			return i < len(litToks)
		}
		if i >= len(litToks) {
			return false
		}
		if pt == "*" {
			continue
		}
		if pt != litToks[i] {
			return false
		}
	}
	return len(patToks) == len(litToks)
}
