package nats

import "testing"

func TestNewMsg(t *testing.T) {
	m := NewMsg("foo.bar")
	if m.Subject != "foo.bar" || m.Reply != "" || m.Data != nil {
		t.Fatalf("NewMsg() = %+v", m)
	}
	if m.Subscription() != nil {
		t.Fatal("Subscription() on an unenqueued message is non-nil")
	}
}

func TestMsgSizeWithoutHeader(t *testing.T) {
	m := &Msg{Data: []byte("hello")}
	if got := m.size(); got != 5 {
		t.Fatalf("size() = %d, want 5", got)
	}
}

func TestMsgSizeIncludesEncodedHeaderLength(t *testing.T) {
	h := NewHeader()
	h.Set("K", "v")
	m := &Msg{Data: []byte("hi"), Header: h}
	want := len("hi") + headerEncodedLen(h)
	if got := m.size(); got != want {
		t.Fatalf("size() = %d, want %d", got, want)
	}
	if got := m.size(); got <= len(m.Data) {
		t.Fatalf("size() = %d, want more than payload-only length %d once headers are set", got, len(m.Data))
	}
}
