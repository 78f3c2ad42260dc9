package nats

// Header is a multi-value map that keeps each key's values in insertion
// order, the way the wire header block (spec.md §6) allows duplicate keys
// whose order must survive a round trip. The order of distinct keys is not
// preserved. Keys are canonicalized by the caller (as written on
// the wire) — unlike net/http.Header this does not title-case keys, since
// the protocol treats header names as opaque bytes up to the colon.
type Header map[string][]string

// NewHeader returns an empty Header.
func NewHeader() Header {
	return make(Header)
}

// Add appends value to key's list, preserving any values already present.
func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

// Set replaces key's value list with a single value.
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

// Get returns the first value for key, or "" if key is absent.
func (h Header) Get(key string) string {
	vs := h[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns the full, in-order value list for key, or nil if absent.
func (h Header) Values(key string) []string {
	return h[key]
}

// Del removes key entirely.
func (h Header) Del(key string) {
	delete(h, key)
}

// Status-line derived pseudo-headers used by HMSG frames that carry a
// status code instead of (or in addition to) user headers (spec.md §6):
// 404 no messages, 408 request timeout, 409 max bytes/limit, 100 idle
// heartbeat or flow control request.
const (
	headerStatusKey      = "Status"
	headerDescriptionKey = "Description"
	StatusNoMessages     = "404"
	StatusRequestTimeout = "408"
	StatusConflict       = "409"
	StatusControlMessage = "100"
)

// StatusCode returns the HMSG status-line code, if any, and whether one was
// present. Only status-only HMSG frames (no user headers beyond Status/
// Description) are in-band control messages per spec.md §4.9/§6.
func (h Header) StatusCode() (string, bool) {
	v, ok := h[headerStatusKey]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// StatusDescription returns the HMSG status line's human-readable
// "Description" pseudo-header, if any (spec.md §6), e.g. the server's
// explanation text alongside a 409 max-bytes/limit status.
func (h Header) StatusDescription() string {
	return h.Get(headerDescriptionKey)
}
