package nats

import "testing"

func TestSubjectValidate(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"foo", true},
		{"foo.bar", true},
		{"foo.bar.baz", true},
		{"", false},
		{".foo", false},
		{"foo.", false},
		{"foo..bar", false},
		{"foo bar", false},
		{"foo\tbar", false},
		{"foo\r\n", false},
	}
	for _, c := range cases {
		if got := subjectValidate(c.subject); got != c.want {
			t.Errorf("subjectValidate(%q) = %v, want %v", c.subject, got, c.want)
		}
	}
}

func TestSubjectValidateLiteral(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"foo.bar", true},
		{"foo.*.bar", false},
		{"foo.>", false},
		{"*", false},
		{">", false},
	}
	for _, c := range cases {
		if got := subjectValidateLiteral(c.subject); got != c.want {
			t.Errorf("subjectValidateLiteral(%q) = %v, want %v", c.subject, got, c.want)
		}
	}
}

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		literal, pattern string
		want             bool
	}{
		{"foo", "foo", true},
		{"foo.bar", "foo.bar", true},
		{"foo.bar", "foo.baz", false},
		{"foo.bar", "foo.*", true},
		{"foo.bar.baz", "foo.*", false},
		{"foo.bar.baz", "foo.>", true},
		{"foo", "foo.>", false},
		{"foo.bar.baz", "foo.*.baz", true},
		{"foo.bar.baz", "*.*.*", true},
		{"foo.bar", "*.*.*", false},
		{"foo.bar.baz.qux", ">", true},
	}
	for _, c := range cases {
		if got := subjectMatches(c.literal, c.pattern); got != c.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", c.literal, c.pattern, got, c.want)
		}
	}
}
