package filestorage

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// maxSegmentLength keeps encoded segments within common file name limits.
const maxSegmentLength = 255

// EncodePathSegment turns s into a single file system and URL safe path
// segment. The encoding is deterministic and injective for segments up to
// maxSegmentLength bytes; longer ones are cut and suffixed deterministically.
func EncodePathSegment(s string) string {
	enc := url.QueryEscape(s)
	enc = strings.ReplaceAll(enc, "*", "%2A")
	enc = strings.ReplaceAll(enc, "~", "%7E")
	if strings.HasPrefix(enc, ".") {
		enc = "%2E" + enc[1:]
	}
	if strings.HasSuffix(enc, ".") {
		enc = enc[:len(enc)-1] + "%2E"
	}
	if len(enc) > maxSegmentLength {
		suffix := hashSuffix(s)
		enc = cutEscaped(enc, maxSegmentLength-len(suffix)) + suffix
	}
	return enc
}

// cutEscaped shortens enc to at most n bytes without splitting a %XX escape.
func cutEscaped(enc string, n int) string {
	switch {
	case enc[n-1] == '%':
		n--
	case enc[n-2] == '%':
		n -= 2
	}
	return enc[:n]
}

func hashSuffix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "-" + hex.EncodeToString(sum[:8])
}
