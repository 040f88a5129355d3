// Package hashutil provides the small set of deterministic hashing and
// encoding primitives the index relies on: word signatures (which route
// postings to shards), base36 numeric fields, and short collision-resistant
// identifiers.
package hashutil

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

// SigLen is the number of characters of a word signature that participate
// in shard routing. Shard filenames are 1..SigLen characters of this
// signature.
const SigLen = 12

// cleanBase64 strips characters that don't belong in a filesystem-safe
// signature and maps '/' to '_' so the result can be used as (part of) a
// shard filename.
func cleanBase64(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '+', '=', '\n':
			continue
		case '/':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sigFromBytes computes the cleaned base64 SHA-1 signature of b and returns
// its first 2*SigLen characters (padding with zeroes in the vanishingly
// unlikely event cleaning shortens it below that length).
func sigFromBytes(b []byte) string {
	sum := sha1.Sum(b)
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	cleaned := cleanBase64(encoded)
	for len(cleaned) < 2*SigLen {
		cleaned += "0"
	}
	return cleaned[:2*SigLen]
}

// WordSig computes the routing/matching signature of a word: the first 2H
// characters of the cleaned base64 SHA-1 of its UTF-8 bytes.
func WordSig(word string) string {
	return sigFromBytes([]byte(word))
}

// MsgIDHash computes the dedup hash of a (trimmed) Message-ID header, using
// the same transform as WordSig.
func MsgIDHash(messageID string) string {
	return sigFromBytes([]byte(strings.TrimSpace(messageID)))
}

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Base36 renders n in uppercase base36, with "0" encoded as "0" (not "").
func Base36(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [64]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base36Alphabet[n%36]
		n /= 36
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParseBase36 parses an uppercase base36 string produced by Base36.
func ParseBase36(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
		if s == "" {
			return 0, false
		}
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'A' && c <= 'Z':
			d = int64(c-'A') + 10
		case c >= 'a' && c <= 'z':
			d = int64(c-'a') + 10
		default:
			return 0, false
		}
		n = n*36 + d
	}
	if neg {
		n = -n
	}
	return n, true
}

// ShortHash strips non-alphanumeric characters from s, lowercases it, and
// then pads the result with word-signature fragments until it reaches at
// least n characters, truncating to exactly n. It derives stable,
// filesystem-safe short identifiers from arbitrary strings such as file
// paths. Mailbox ids are not derived with it (see mbox.FormatMailboxID).
func ShortHash(s string, n int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	salt := s
	for len(out) < n {
		salt = WordSig(salt)
		out += strings.ToLower(salt)
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}
