// Package fingerprint derives the per-session device identity the remote
// service's anti-bot layer expects: a unique device ID, a deterministic
// browser fingerprint and the matching header set. Anti-bot systems correlate
// these signals, so a mismatch between the fingerprint and the User-Agent it
// claims to describe is itself an automation tell; everything here is derived
// from a single descriptor to keep the signals coherent.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Descriptor is the canonical browser identity a session presents. Callers may
// vary it, but for a given descriptor the fingerprint is deterministic so
// repeated calls are indistinguishable to the remote service.
type Descriptor struct {
	UserAgent string
	Platform  string
	Viewport  string
	Browser   string
}

// DefaultDescriptor mimics current desktop Chrome on macOS, matching the
// sec-ch-ua headers Headers emits.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36",
		Platform:  "macOS",
		Viewport:  "1920x1080",
		Browser:   "Chrome",
	}
}

// SessionContext bundles the identifiers one registration attempt presents.
// Contexts must never be reused across identities within a batch.
type SessionContext struct {
	DeviceID    string
	Fingerprint string
	Descriptor  Descriptor
}

// NewSessionContext mints a fresh session context for the default descriptor.
func NewSessionContext() SessionContext {
	return NewSessionContextFor(DefaultDescriptor())
}

// NewSessionContextFor mints a fresh session context for the given descriptor.
func NewSessionContextFor(d Descriptor) SessionContext {
	return SessionContext{
		DeviceID:    DeviceID(time.Now()),
		Fingerprint: Hash(d),
		Descriptor:  d,
	}
}

// DeviceID builds a unique identifier from a millisecond timestamp and random
// hex, sliced into six dash groups the way the site's own client formats it.
// The time component makes ordering inferable across IDs; the random component
// makes collisions negligible.
func DeviceID(now time.Time) string {
	ts := fmt.Sprintf("%015x", now.UnixMilli())
	random := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s",
		ts[:8],
		random[:7],
		random[7:14],
		random[14:21],
		ts[8:15],
		random[21:28],
	)
}

// Hash returns the deterministic fingerprint digest for a descriptor. MD5 is
// what the remote service computes client-side; this is an identifier, not a
// security primitive.
func Hash(d Descriptor) string {
	canonical := fmt.Sprintf("%s-%s-%s-%s", d.UserAgent, d.Platform, d.Viewport, d.Browser)
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Headers returns the full anti-bot header set for a session context. The
// cookie-id and anonymous-id both carry the device ID; the remote service
// checks they agree.
func (sc SessionContext) Headers() map[string]string {
	return map[string]string{
		"From-Source-Type":   "PC",
		"sec-ch-ua-platform": `"` + sc.Descriptor.Platform + `"`,
		"sec-ch-ua":          `"Chromium";v="140", "Not=A?Brand";v="24", "Google Chrome";v="140"`,
		"sec-ch-ua-mobile":   "?0",
		"cookie-id":          sc.DeviceID,
		"anonymous-id":       sc.DeviceID,
		"Fingerprint":        sc.Fingerprint,
		"User-Agent":         sc.Descriptor.UserAgent,
		"Accept":             "application/json, text/plain, */*",
		"Content-Type":       "application/json",
		"bx-v":               "2.5.31",
		"Sec-Fetch-Site":     "same-origin",
		"Sec-Fetch-Mode":     "cors",
		"Sec-Fetch-Dest":     "empty",
	}
}
