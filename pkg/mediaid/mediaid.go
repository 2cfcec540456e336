// Package mediaid generates and validates persistent media identifiers.
//
// ID Format: <kind:2>-<base62_ts:4><base62_rand:6> (13 chars total including dash)
//
// Kinds:
//   - im = image
//   - vd = video
//   - pd = pdf / document
//   - au = audio
//   - md = any other media
//
// The timestamp component uses microseconds since epoch modulo 62^4, so it only
// orders IDs loosely; identity comes from the random component. An ID is generated
// once when a media item is first registered and is never derived from content.
package mediaid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"
)

// Kind prefixes.
const (
	KindImage = "im"
	KindVideo = "vd"
	KindPDF   = "pd"
	KindAudio = "au"
	KindOther = "md"
)

const (
	base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	base62Max      = 62 * 62 * 62 * 62
	tsLen          = 4
	randLen        = 6
	idLen          = 3 + tsLen + randLen
)

var validKinds = map[string]bool{
	KindImage: true,
	KindVideo: true,
	KindPDF:   true,
	KindAudio: true,
	KindOther: true,
}

// Errors
var (
	ErrInvalidFormat = errors.New("invalid media ID format")
	ErrInvalidKind   = errors.New("invalid media kind")
)

// ID is a parsed media identifier.
type ID struct {
	Kind      string
	Timestamp string
	Random    string
	Raw       string
}

func (i ID) String() string {
	return i.Raw
}

// KindFor maps a media type name ("image", "video", "pdf", "audio") to its kind prefix.
func KindFor(mediaType string) string {
	switch mediaType {
	case "image":
		return KindImage
	case "video":
		return KindVideo
	case "pdf", "document":
		return KindPDF
	case "audio":
		return KindAudio
	default:
		return KindOther
	}
}

// New generates a new media ID of the given kind.
// Panics if kind is not one of the Kind constants.
func New(kind string) string {
	if !validKinds[kind] {
		panic(fmt.Sprintf("mediaid: invalid kind: %q", kind))
	}
	ts := encodeBase62(uint64(time.Now().UnixNano()/1000) % base62Max)
	return kind + "-" + ts + randomBase62(randLen)
}

// ForType generates a new media ID for a media type name.
func ForType(mediaType string) string {
	return New(KindFor(mediaType))
}

// Parse validates and parses a media ID string.
func Parse(id string) (ID, error) {
	if len(id) != idLen {
		return ID{}, fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidFormat, idLen, len(id))
	}
	if id[2] != '-' {
		return ID{}, fmt.Errorf("%w: missing dash at position 2", ErrInvalidFormat)
	}
	kind := id[:2]
	if !validKinds[kind] {
		return ID{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidKind, kind)
	}
	suffix := id[3:]
	if !isValidBase62(suffix) {
		return ID{}, fmt.Errorf("%w: suffix contains invalid characters", ErrInvalidFormat)
	}
	return ID{
		Kind:      kind,
		Timestamp: suffix[:tsLen],
		Random:    suffix[tsLen:],
		Raw:       id,
	}, nil
}

// IsValid checks if a string is a well-formed media ID.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

func encodeBase62(n uint64) string {
	result := make([]byte, tsLen)
	for i := tsLen - 1; i >= 0; i-- {
		result[i] = base62Alphabet[n%62]
		n /= 62
	}
	return string(result)
}

// randomBase62 uses rejection sampling to avoid modulo bias.
func randomBase62(length int) string {
	const maxUnbiased = 248 // 62 * 4

	result := make([]byte, length)
	buf := make([]byte, length*2)
	for i := 0; i < length; {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("mediaid: reading random bytes: %v", err))
		}
		for _, b := range buf {
			if i == length {
				break
			}
			if b < maxUnbiased {
				result[i] = base62Alphabet[b%62]
				i++
			}
		}
	}
	return string(result)
}

func isValidBase62(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
