package cytube

import (
	"crypto/md5"
	"encoding/base64"
	"strconv"
	"strings"
)

// The server hides moderator-visible IPs by hashing each octet with
// the concatenation of the preceding plaintext octets and the octet
// index, then keeping three characters of the base64 digest. Partial
// cloaks keep the leading octets in the clear. Missing octets pad with
// "*" so a cloaked address always has four parts.

func ipHash(s string, n int) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])[:n]
}

// CloakIP cloaks the octets of ip from index start onward.
func CloakIP(ip string, start int) string {
	parts := strings.Split(ip, ".")
	var acc string
	for i := start; i < len(parts); i++ {
		part := parts[i]
		parts[i] = ipHash(acc+part+strconv.Itoa(i), 3)
		acc += part
	}
	for len(parts) < 4 {
		parts = append(parts, "*")
	}
	return strings.Join(parts, ".")
}

// UncloakIP brute-forces the cloak and returns every address that
// hashes to ip. A negative start autodetects where the cloak begins:
// the first part that is not a plain octet.
func UncloakIP(ip string, start int) []string {
	parts := strings.Split(ip, ".")
	if start < 0 {
		start = len(parts)
		for i, part := range parts {
			if n, err := strconv.Atoi(part); err != nil || n < 0 || n > 255 || part != strconv.Itoa(n) {
				start = i
				break
			}
		}
	}
	if start >= len(parts) {
		return []string{strings.Join(parts, ".")}
	}

	prefix := parts[:start]
	var results []string
	var walk func(acc string, i int, octets []string)
	walk = func(acc string, i int, octets []string) {
		if i >= len(parts) {
			full := append(append([]string{}, prefix...), octets...)
			results = append(results, strings.Join(full, "."))
			return
		}
		if parts[i] == "*" {
			// Padding carries no information; any octet fits.
			walk(acc, i+1, append(append([]string{}, octets...), "*"))
			return
		}
		for n := 0; n < 256; n++ {
			s := strconv.Itoa(n)
			if ipHash(acc+s+strconv.Itoa(i), 3) == parts[i] {
				walk(acc+s, i+1, append(append([]string{}, octets...), s))
			}
		}
	}
	walk("", start, nil)
	return results
}
