package linkpreview

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// KeySize is the size of a BLAKE3 digest in bytes (256 bits).
const KeySize = 32

// Key identifies a cached preview. It is the BLAKE3 digest of the URL string
// exactly as resolved by the renderer, so the same URL always maps to the same
// key and no normalization is applied.
type Key [KeySize]byte

// KeyOf computes the cache key for a URL.
func KeyOf(url string) Key {
	return Key(blake3.Sum256([]byte(url)))
}

// String returns the hex-encoded key.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ShortString returns a shortened hex representation for logs.
func (k Key) ShortString() string {
	return hex.EncodeToString(k[:8])
}

// Dir returns the first two hex characters of the key, used for sharding
// entries into subdirectories.
func (k Key) Dir() string {
	return hex.EncodeToString(k[:1])
}

// IsZero returns true if the key is all zeros (uninitialized).
func (k Key) IsZero() bool {
	return k == Key{}
}

// ParseKey parses a hex-encoded key.
func ParseKey(s string) (Key, error) {
	if len(s) != KeySize*2 {
		return Key{}, fmt.Errorf("invalid key length: expected %d hex chars, got %d", KeySize*2, len(s))
	}
	var k Key
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("invalid key %q: %w", s, err)
	}
	return k, nil
}

// Entry storage key layout.

const entryKeyPrefix = "previews"

const entryKeySuffix = ".json"

// StorageKey returns the backend storage key for a preview entry.
// Format: previews/{hex[:2]}/{hex}.json
func StorageKey(k Key) string {
	h := k.String()
	return entryKeyPrefix + "/" + h[:2] + "/" + h + entryKeySuffix
}

// StoragePrefix is the backend prefix under which all entries live.
func StoragePrefix() string {
	return entryKeyPrefix
}

// ParseStorageKey extracts a Key from a backend storage key.
func ParseStorageKey(key string) (Key, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != entryKeyPrefix {
		return Key{}, fmt.Errorf("invalid entry key format: %s", key)
	}
	h, ok := strings.CutSuffix(parts[2], entryKeySuffix)
	if !ok || len(h) < 2 || parts[1] != h[:2] {
		return Key{}, fmt.Errorf("invalid entry key format: %s", key)
	}
	return ParseKey(h)
}
