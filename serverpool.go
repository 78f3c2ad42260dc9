package nats

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// srvEntry is one pool member: a parsed broker URL plus reconnect
// bookkeeping (spec.md §4.1).
type srvEntry struct {
	url       *url.URL
	explicit  bool // user-provided vs. discovered from an INFO frame
	attempts  int
	lastTry   time.Time
	lastError error
}

func (e *srvEntry) key() string {
	return normalizeHostPort(e.url)
}

func normalizeHostPort(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = "4222"
	}
	return host + ":" + port
}

// serverPool is the ordered set of known brokers plus the shared pacing
// limiter that keeps a pool of many simultaneously-unreachable entries from
// spin-dialing faster than one attempt per entry per backoff window, even
// under clock skew between srvEntry.lastTry reads (spec.md §4.1, with the
// rate limiter an addition grounded on golang.org/x/time/rate, the same
// dependency the teacher carries for its own backpressure pacing).
type serverPool struct {
	mu      sync.Mutex
	entries []*srvEntry
	idx     int // index of the currently-connected entry, -1 if none
	limiter *rate.Limiter
}

func newServerPool(urls []string, noRandomize bool) (*serverPool, error) {
	p := &serverPool{idx: -1, limiter: rate.NewLimiter(rate.Every(10*time.Millisecond), 4)}
	for _, u := range urls {
		if err := p.add(u, true); err != nil {
			return nil, err
		}
	}
	if !noRandomize {
		p.shuffle()
	}
	return p, nil
}

func (p *serverPool) add(raw string, explicit bool) error {
	u, err := parseServerURL(raw)
	if err != nil {
		return newErr(ErrCodeInvalidArg, "serverPool.add", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := normalizeHostPort(u)
	for _, e := range p.entries {
		if e.key() == key {
			return nil // dedup
		}
	}
	p.entries = append(p.entries, &srvEntry{url: u, explicit: explicit})
	return nil
}

func parseServerURL(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "nats://" + raw
	}
	return url.Parse(raw)
}

// discover merges broker-advertised URLs (an INFO frame's connect_urls),
// deduplicating by normalized host:port and never touching explicit
// entries. Returns true if any new entry was added, so the caller can
// decide whether to fire the DISCOVERED_SERVERS async callback.
func (p *serverPool) discover(urls []string) bool {
	added := false
	for _, raw := range urls {
		u, err := parseServerURL(raw)
		if err != nil {
			continue
		}
		p.mu.Lock()
		key := normalizeHostPort(u)
		found := false
		for _, e := range p.entries {
			if e.key() == key {
				found = true
				break
			}
		}
		if !found {
			p.entries = append(p.entries, &srvEntry{url: u})
			added = true
		}
		p.mu.Unlock()
	}
	return added
}

func (p *serverPool) shuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	rand.Shuffle(len(p.entries), func(i, j int) {
		p.entries[i], p.entries[j] = p.entries[j], p.entries[i]
	})
}

// pickNext returns the next candidate to attempt (round-robin from the
// current index), its backoff delay, and whether any candidate remains
// under maxAttempts. A candidate whose attempts have reached maxAttempts
// (maxAttempts < 0 means unlimited) is skipped.
func (p *serverPool) pickNext(reconnectWait, jitter time.Duration, maxAttempts int) (*srvEntry, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.entries)
	if n == 0 {
		return nil, 0, false
	}
	for i := 0; i < n; i++ {
		cand := p.entries[(p.idx+1+i)%n]
		if maxAttempts >= 0 && cand.attempts >= maxAttempts {
			continue
		}
		now := time.Now()
		elapsed := now.Sub(cand.lastTry)
		delay := reconnectWait - elapsed
		if delay < 0 {
			delay = 0
		}
		if jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(jitter) + 1))
		}
		return cand, delay, true
	}
	return nil, 0, false
}

// markAttempt records a failed dial attempt against e. Pacing across the
// whole pool (not just per-entry backoff) is applied by the caller via
// p.limiter.WaitN before each dial, so that a pool of many simultaneously
// unreachable entries cannot retry faster than the limiter allows even
// right after each entry's own backoff has individually expired.
func (p *serverPool) markAttempt(e *srvEntry, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.attempts++
	e.lastTry = time.Now()
	e.lastError = err
}

func (p *serverPool) markConnected(e *srvEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e.attempts = 0
	e.lastError = nil
	for i, cand := range p.entries {
		if cand == e {
			p.idx = i
			break
		}
	}
}

func (p *serverPool) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.url.String()
	}
	return out
}
