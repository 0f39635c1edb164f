package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// maxRemoteKeyLen keeps keys under memcached's 250-byte limit once prefixed.
const maxRemoteKeyLen = 200

// RemoteKey builds a backend-safe key for class and key. Keys that are too long
// or contain whitespace/control bytes (memcached rejects them) are replaced by
// a truncated prefix plus an xxhash of the full key.
func RemoteKey(prefix, class, key string) string {
	raw := prefix + class + ":" + key
	if len(raw) <= maxRemoteKeyLen && !hasUnsafeByte(raw) {
		return raw
	}
	sum := xxhash.Sum64String(key)
	safe := sanitize(key)
	const keep = 96
	if len(safe) > keep {
		safe = safe[:keep]
	}
	return fmt.Sprintf("%s%s:%s:h=%016x", prefix, class, safe, sum)
}

func hasUnsafeByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] == 0x7f {
			return true
		}
	}
	return false
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f {
			b.WriteByte('_')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
