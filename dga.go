package callbackd

import (
	"crypto/sha256"
	"strconv"
	"time"
)

// domainSuffixes is the fixed set a generated name's suffix is drawn from.
var domainSuffixes = [...]string{".com", ".net", ".org", ".info", ".biz"}

// GenerateDomains derives a reproducible, ordered list of pseudo-domain
// names from the shared seed and a calendar date. Both parties running the
// same seed and date obtain the same sequence in the same order, so the
// list can serve as a rendezvous schedule without any coordination.
//
// Per index i the digest of "seed:YYYYMMDD:i" drives everything: the name
// length (12 to 19, from the leading nibble), the letters (successive
// digest bytes mod 26), and the suffix (trailing nibble mod the suffix set
// size). The function is pure and independent of the cipher path.
func GenerateDomains(seed string, date time.Time, count int) []string {
	if count <= 0 {
		return nil
	}

	dateCompact := date.UTC().Format("20060102")
	out := make([]string, 0, count)

	for i := 0; i < count; i++ {
		digest := sha256.Sum256([]byte(seed + ":" + dateCompact + ":" + strconv.Itoa(i)))

		length := 12 + int(digest[0]>>4)%8
		name := make([]byte, length)
		for j := 0; j < length; j++ {
			name[j] = 'a' + digest[j]%26
		}

		suffix := domainSuffixes[int(digest[len(digest)-1]&0x0f)%len(domainSuffixes)]
		out = append(out, string(name)+suffix)
	}

	return out
}
