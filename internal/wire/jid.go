package wire

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultDomain is the chat server domain used to build addresses.
const DefaultDomain = "duolicious.app"

// JID returns the bare address for a person on the given domain.
func JID(personUUID, domain string) string {
	if domain == "" {
		domain = DefaultDomain
	}
	return personUUID + "@" + domain
}

// Bare strips the domain and resource from an address, leaving the local part.
func Bare(jid string) string {
	local, _, _ := strings.Cut(jid, "@")
	local, _, _ = strings.Cut(local, "/")
	return local
}

// IsPersonUUID reports whether s is a canonical RFC 4122 UUID (versions 1-5).
func IsPersonUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	v := u.Version()
	return v >= 1 && v <= 5 && u.Variant() == uuid.RFC4122
}
