package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// LinkTTL is how long a meeting link stays joinable after creation.
const LinkTTL = 24 * time.Hour

// AgeUnknown is returned by Age when the link carries no readable timestamp.
const AgeUnknown = time.Duration(math.MaxInt64)

var ErrLinkExpired = errors.New("meeting link has expired")

// MeetingLinks generates and validates time-bounded room ids.
// The zero value uses the wall clock and LinkTTL.
type MeetingLinks struct {
	Now func() time.Time
	TTL time.Duration
}

func (m MeetingLinks) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m MeetingLinks) ttl() time.Duration {
	if m.TTL > 0 {
		return m.TTL
	}
	return LinkTTL
}

// Generate returns <16 random hex chars>-<unix ms>.
func (m MeetingLinks) Generate() RoomID {
	var b [8]byte
	// crypto/rand.Read never returns an error since Go 1.24.
	_, _ = rand.Read(b[:])
	return RoomID(hex.EncodeToString(b[:]) + "-" + strconv.FormatInt(m.now().UnixMilli(), 10))
}

// CreatedAt parses the timestamp suffix.
func (m MeetingLinks) CreatedAt(id RoomID) (time.Time, bool) {
	s := string(id)
	i := strings.LastIndexByte(s, '-')
	if i < 0 || i == len(s)-1 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// IsExpired treats unparsable ids as expired.
func (m MeetingLinks) IsExpired(id RoomID) bool {
	created, ok := m.CreatedAt(id)
	if !ok {
		return true
	}
	return m.now().Sub(created) > m.ttl()
}

// Age is for diagnostics only; it never fails.
func (m MeetingLinks) Age(id RoomID) time.Duration {
	created, ok := m.CreatedAt(id)
	if !ok {
		return AgeUnknown
	}
	return m.now().Sub(created)
}

// Clock returns the time source's current time.
func (m MeetingLinks) Clock() time.Time { return m.now() }
