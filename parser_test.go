package nats

import (
	"strconv"
	"testing"
)

func collectEvents(t *testing.T, frames ...[]byte) []parseEvent {
	t.Helper()
	var events []parseEvent
	p := newParser(func(ev parseEvent) { events = append(events, ev) })
	for _, f := range frames {
		if err := p.Parse(f); err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
	}
	return events
}

func TestParserMsgNoReply(t *testing.T) {
	events := collectEvents(t, []byte("MSG foo 1 2\r\nhi\r\n"))
	if len(events) != 1 || events[0].kind != evMsg {
		t.Fatalf("events = %+v, want one evMsg", events)
	}
	m := events[0].msg
	if m.Subject != "foo" || m.Reply != "" || string(m.Data) != "hi" {
		t.Fatalf("msg = %+v, want subject=foo reply=\"\" data=hi", m)
	}
	if events[0].sid != 1 {
		t.Fatalf("sid = %d, want 1", events[0].sid)
	}
}

func TestParserMsgWithReply(t *testing.T) {
	events := collectEvents(t, []byte("MSG foo.bar 42 inbox.1 2\r\nhi\r\n"))
	m := events[0].msg
	if m.Subject != "foo.bar" || m.Reply != "inbox.1" || string(m.Data) != "hi" {
		t.Fatalf("msg = %+v", m)
	}
	if events[0].sid != 42 {
		t.Fatalf("sid = %d, want 42", events[0].sid)
	}
}

func TestParserHMSGHeadersRoundTrip(t *testing.T) {
	hdr := encodeHeaderBlock(func() Header {
		h := NewHeader()
		h.Add("My-Key1", "value1")
		h.Add("My-Key1", "value3")
		h.Add("My-Key2", "value2")
		return h
	}())
	payload := []byte("hello")
	total := len(hdr) + len(payload)
	frame := append([]byte{}, []byte("HMSG foo 7 ")...)
	frame = append(frame, []byte(strconv.Itoa(len(hdr)))...)
	frame = append(frame, ' ')
	frame = append(frame, []byte(strconv.Itoa(total))...)
	frame = append(frame, []byte("\r\n")...)
	frame = append(frame, hdr...)
	frame = append(frame, payload...)
	frame = append(frame, []byte("\r\n")...)

	events := collectEvents(t, frame)
	if len(events) != 1 || events[0].kind != evMsg {
		t.Fatalf("events = %+v, want one evMsg", events)
	}
	m := events[0].msg
	if string(m.Data) != "hello" {
		t.Fatalf("Data = %q, want hello", m.Data)
	}
	if got := m.Header.Get("My-Key1"); got != "value1" {
		t.Fatalf("Header.Get(My-Key1) = %q, want value1", got)
	}
	if got := m.Header.Values("My-Key1"); len(got) != 2 || got[0] != "value1" || got[1] != "value3" {
		t.Fatalf("Header.Values(My-Key1) = %v, want [value1 value3]", got)
	}
	if got := m.Header.Get("missing"); got != "" {
		t.Fatalf("Header.Get(missing) = %q, want empty", got)
	}
}

func TestParserPingPong(t *testing.T) {
	events := collectEvents(t, []byte("PING\r\nPONG\r\n"))
	if len(events) != 2 || events[0].kind != evPing || events[1].kind != evPong {
		t.Fatalf("events = %+v", events)
	}
}

func TestParserOKErr(t *testing.T) {
	events := collectEvents(t, []byte("+OK\r\n-ERR 'Authorization Violation'\r\n"))
	if len(events) != 2 || events[0].kind != evOK || events[1].kind != evErr {
		t.Fatalf("events = %+v", events)
	}
	if events[1].errText != "Authorization Violation" {
		t.Fatalf("errText = %q", events[1].errText)
	}
}

func TestParserInfo(t *testing.T) {
	events := collectEvents(t, []byte("INFO {\"server_id\":\"abc\"}\r\n"))
	if len(events) != 1 || events[0].kind != evInfo {
		t.Fatalf("events = %+v", events)
	}
	if string(events[0].infoRaw) != `{"server_id":"abc"}` {
		t.Fatalf("infoRaw = %q", events[0].infoRaw)
	}
}

func TestParserSplitAcrossReads(t *testing.T) {
	full := []byte("MSG foo 1 5\r\nhello\r\n")
	var events []parseEvent
	p := newParser(func(ev parseEvent) { events = append(events, ev) })
	for i := 0; i < len(full); i++ {
		if err := p.Parse(full[i : i+1]); err != nil {
			t.Fatalf("Parse() byte-at-a-time error = %v", err)
		}
	}
	if len(events) != 1 || string(events[0].msg.Data) != "hello" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParserMalformedOp(t *testing.T) {
	p := newParser(func(parseEvent) {})
	if err := p.Parse([]byte("XYZ\r\n")); err == nil {
		t.Fatal("Parse() expected error for unknown op")
	}
}
