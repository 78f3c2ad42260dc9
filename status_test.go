package nats

import "testing"

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		DISCONNECTED:  "disconnected",
		CONNECTING:    "connecting",
		CONNECTED:     "connected",
		RECONNECTING:  "reconnecting",
		DRAINING_SUBS: "draining_subs",
		DRAINING_PUBS: "draining_pubs",
		CLOSED:        "closed",
		Status(99):    "unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
