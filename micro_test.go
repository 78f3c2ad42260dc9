package nats

import "testing"

func TestAddServiceRequiresName(t *testing.T) {
	if _, err := AddService(nil, ServiceConfig{}); err == nil {
		t.Fatal("AddService() with empty name returned nil error")
	}
}

func TestAtomicStringLoadEmpty(t *testing.T) {
	var a atomicString
	if got := a.load(); got != "" {
		t.Fatalf("load() on a never-stored atomicString = %q, want empty", got)
	}
	a.store("boom")
	if got := a.load(); got != "boom" {
		t.Fatalf("load() = %q, want boom", got)
	}
}

func TestEndpointStatsSnapshot(t *testing.T) {
	ep := &Endpoint{name: "get", subject: "svc.get"}
	ep.numRequests = 3
	ep.numErrors = 1
	ep.totalNanos = 1500
	ep.lastError.store("boom")

	stats := ep.Stats()
	if stats.Name != "get" || stats.Subject != "svc.get" {
		t.Fatalf("stats identity = %+v", stats)
	}
	if stats.NumRequests != 3 || stats.NumErrors != 1 {
		t.Fatalf("stats counts = %+v", stats)
	}
	if stats.ProcessingTimeTotal != 1500 {
		t.Fatalf("ProcessingTimeTotal = %v, want 1500ns", stats.ProcessingTimeTotal)
	}
	if stats.LastError != "boom" {
		t.Fatalf("LastError = %q, want boom", stats.LastError)
	}
}

// TestRequestErrorCountsAgainstEndpoint exercises spec.md §4.10's error
// count: a handler calling Request.Error must be reflected in the owning
// Endpoint's stats, not just a handler panic.
func TestRequestErrorCountsAgainstEndpoint(t *testing.T) {
	ep := &Endpoint{name: "get", subject: "svc.get"}
	req := &Request{msg: &Msg{Reply: ""}, ep: ep}

	_ = req.Error("500", "boom", nil) // no reply subject: counts the error, skips the publish

	stats := ep.Stats()
	if stats.NumErrors != 1 {
		t.Fatalf("NumErrors after Request.Error = %d, want 1", stats.NumErrors)
	}
	if stats.LastError != "boom" {
		t.Fatalf("LastError after Request.Error = %q, want boom", stats.LastError)
	}
}
