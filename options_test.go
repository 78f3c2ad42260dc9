package nats

import "testing"

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.URL != DefaultURL {
		t.Fatalf("URL = %q, want %q", o.URL, DefaultURL)
	}
	if !o.AllowReconnect {
		t.Fatal("AllowReconnect = false, want true by default")
	}
	if o.MaxReconnectAttempts != DefaultMaxReconnect {
		t.Fatalf("MaxReconnectAttempts = %d, want %d", o.MaxReconnectAttempts, DefaultMaxReconnect)
	}
}

func TestOptionMutators(t *testing.T) {
	o := defaultOptions()
	for _, apply := range []Option{
		Name("probe"),
		NoRandomize(),
		DontReconnect(),
		UserInfo("alice", "secret"),
	} {
		apply(&o)
	}
	if o.Name != "probe" || !o.NoRandomize || o.AllowReconnect || o.User != "alice" || o.Password != "secret" {
		t.Fatalf("options after mutators = %+v", o)
	}
}

func TestDefaultSubOptions(t *testing.T) {
	o := defaultSubOptions()
	if o.PendingMsgsLimit != DefaultSubPendingMsgsLimit || o.PendingBytesLimit != DefaultSubPendingBytesLimit {
		t.Fatalf("defaultSubOptions() = %+v", o)
	}
}

func TestConnectJWTAndSigEmpty(t *testing.T) {
	jwt, err := connectJWTAndSig("")
	if err != nil || jwt != "" {
		t.Fatalf("connectJWTAndSig(\"\") = (%q, %v), want (\"\", nil)", jwt, err)
	}
}

func TestConnectJWTAndSigValid(t *testing.T) {
	raw := "eyJhbGciOiAibm9uZSIsICJ0eXAiOiAiSldUIn0.eyJzdWIiOiAidXNlcjEifQ.sig"
	got, err := connectJWTAndSig(raw)
	if err != nil {
		t.Fatalf("connectJWTAndSig() error = %v", err)
	}
	if got != raw {
		t.Fatalf("connectJWTAndSig() = %q, want unchanged %q", got, raw)
	}
}

func TestConnectJWTAndSigMalformed(t *testing.T) {
	if _, err := connectJWTAndSig("not-a-jwt"); err == nil {
		t.Fatal("connectJWTAndSig(malformed) error = nil, want non-nil")
	}
}
