package util

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultChatDomain is the addressing suffix for individual chats.
const DefaultChatDomain = "@c.us"

// NormalizeChatID turns a bare phone number into the protocol addressing
// form. IDs that already carry a domain suffix pass through unchanged.
func NormalizeChatID(to string) string {
	to = strings.ReplaceAll(strings.TrimSpace(to), " ", "")
	if strings.Contains(to, "@") {
		return to
	}
	return to + DefaultChatDomain
}

func NewSessionID() string {
	// ULID is sortable (nice for DB indexes and dashboards)
	t := time.Now().UTC()
	return "sess_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NewMessageID() string {
	t := time.Now().UTC()
	return "msg_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}

func NowUTC() time.Time {
	return time.Now().UTC()
}
