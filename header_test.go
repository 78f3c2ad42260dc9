package nats

import (
	"reflect"
	"testing"
)

func TestHeaderAddGetValues(t *testing.T) {
	h := NewHeader()
	h.Add("My-Key1", "value1")
	h.Add("My-Key2", "value2")
	h.Add("My-Key1", "value3")

	if got := h.Get("My-Key1"); got != "value1" {
		t.Fatalf("Get(My-Key1) = %q, want value1", got)
	}
	if got := h.Values("My-Key1"); !reflect.DeepEqual(got, []string{"value1", "value3"}) {
		t.Fatalf("Values(My-Key1) = %v, want [value1 value3]", got)
	}
	if got := h.Get("missing"); got != "" {
		t.Fatalf("Get(missing) = %q, want empty", got)
	}
}

func TestHeaderSetReplaces(t *testing.T) {
	h := NewHeader()
	h.Add("K", "a")
	h.Add("K", "b")
	h.Set("K", "c")
	if got := h.Values("K"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("Values(K) after Set = %v, want [c]", got)
	}
}

func TestHeaderDel(t *testing.T) {
	h := NewHeader()
	h.Add("K", "a")
	h.Del("K")
	if got := h.Get("K"); got != "" {
		t.Fatalf("Get(K) after Del = %q, want empty", got)
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHeader()
	h.Add("My-Key1", "value1")
	h.Add("My-Key1", "value3")
	h.Add("My-Key2", "value2")

	encoded := encodeHeaderBlock(h)
	decoded := parseHeaderBlock(encoded)

	if got := decoded.Get("My-Key1"); got != "value1" {
		t.Fatalf("round-trip Get(My-Key1) = %q, want value1", got)
	}
	if got := decoded.Values("My-Key1"); !reflect.DeepEqual(got, []string{"value1", "value3"}) {
		t.Fatalf("round-trip Values(My-Key1) = %v, want [value1 value3]", got)
	}
	if got := decoded.Get("My-Key2"); got != "value2" {
		t.Fatalf("round-trip Get(My-Key2) = %q, want value2", got)
	}
	if got, ok := decoded.StatusCode(); ok {
		t.Fatalf("round-trip StatusCode = %q, want absent", got)
	}
}

func TestHeaderStatusCode(t *testing.T) {
	h := parseHeaderBlock([]byte("NATS/1.0 404 No Messages\r\n\r\n"))
	code, ok := h.StatusCode()
	if !ok || code != StatusNoMessages {
		t.Fatalf("StatusCode() = (%q, %v), want (404, true)", code, ok)
	}
	if got := h.StatusDescription(); got != "No Messages" {
		t.Fatalf("StatusDescription() = %q, want %q", got, "No Messages")
	}
}

func TestHeaderStatusCodeAbsent(t *testing.T) {
	h := parseHeaderBlock([]byte("NATS/1.0\r\nFoo: bar\r\n\r\n"))
	if _, ok := h.StatusCode(); ok {
		t.Fatalf("StatusCode() ok = true, want false for plain header block")
	}
	if got := h.Get("Foo"); got != "bar" {
		t.Fatalf("Get(Foo) = %q, want bar", got)
	}
}
