package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// lockoutPolicy configures a lockoutLimiter: once a key has accumulated
// threshold events, it is locked out for base, doubling per further event up
// to max. A key's record is forgotten expiry after its last event.
type lockoutPolicy struct {
	threshold int
	base      time.Duration
	max       time.Duration
	expiry    time.Duration
}

var (
	// Failed logins per account (keyed by email lookup ID, never the address).
	accountLockout = lockoutPolicy{threshold: 5, base: time.Minute, max: 15 * time.Minute, expiry: time.Hour}
	// Failed logins per source IP.
	ipLockout = lockoutPolicy{threshold: 20, base: time.Minute, max: 30 * time.Minute, expiry: time.Hour}
	// Every request to the mail-sending and registration endpoints, per IP.
	registrationLockout = lockoutPolicy{threshold: 5, base: 5 * time.Minute, max: time.Hour, expiry: time.Hour}
)

// lockoutLimiter tracks events per key and enforces exponential backoff.
type lockoutLimiter struct {
	mu       sync.Mutex
	policy   lockoutPolicy
	attempts map[string]*attemptRecord
	now      func() time.Time
}

type attemptRecord struct {
	count       int
	lastEvent   time.Time
	lockedUntil time.Time
}

func newLockoutLimiter(policy lockoutPolicy, now func() time.Time) *lockoutLimiter {
	return &lockoutLimiter{
		policy:   policy,
		attempts: make(map[string]*attemptRecord),
		now:      now,
	}
}

// check reports whether key is locked out and, if so, for how long.
func (rl *lockoutLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.now()
	if now.Sub(rec.lastEvent) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// record counts an event against key and applies the lockout once the
// threshold is reached: base * 2^(count - threshold), capped at max.
func (rl *lockoutLimiter) record(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.now()
	rec.count++
	rec.lastEvent = now

	if rec.count >= rl.policy.threshold {
		lockout := rl.policy.base
		for i := 0; i < rec.count-rl.policy.threshold; i++ {
			lockout *= 2
			if lockout > rl.policy.max {
				lockout = rl.policy.max
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

// reset forgets key, e.g. after a successful login.
func (rl *lockoutLimiter) reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *lockoutLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastEvent) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

// windowLimiter locks everyone out for lockout once max events have been
// seen within the sliding window.
type windowLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	max         int
	lockout     time.Duration
	events      []time.Time
	lockedUntil time.Time
	now         func() time.Time
}

func newWindowLimiter(window time.Duration, max int, lockout time.Duration, now func() time.Time) *windowLimiter {
	return &windowLimiter{window: window, max: max, lockout: lockout, now: now}
}

func (rl *windowLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *windowLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.events = trimWindow(append(rl.events, now), now, rl.window)
	if len(rl.events) >= rl.max {
		rl.lockedUntil = now.Add(rl.lockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// extractClientIP returns the client IP for rate limiting, honoring proxy
// headers only from the API's trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored if
// RemoteAddr falls within one of trustedProxies. With no trusted proxies
// configured, RemoteAddr is always returned.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !fromTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}

	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for _, elem := range strings.Split(fwd, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}

	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func fromTrustedProxy(remoteIP string, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

// ParseTrustedProxies parses a list of CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
