package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// InputHash returns the hex SHA-256 of content.
func InputHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// StageIdentity combines a stage name with a fingerprint of its options.
// Options are serialized with sorted keys so map iteration order is irrelevant.
func StageIdentity(name string, options map[string]any) string {
	if len(options) == 0 {
		return name
	}
	return name + "@" + Fingerprint(options)[:16]
}

// Fingerprint returns a deterministic hash of a configuration map.
func Fingerprint(options map[string]any) string {
	h := sha256.New()
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		// Components are length-prefixed.
		v, err := json.Marshal(options[k])
		if err != nil {
			v = []byte(strings.TrimSpace(k))
		}
		writeField(h, []byte(k))
		writeField(h, v)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w interface{ Write([]byte) (int, error) }, b []byte) {
	var n [8]byte
	l := uint64(len(b))
	for i := 7; i >= 0; i-- {
		n[i] = byte(l)
		l >>= 8
	}
	_, _ = w.Write(n[:])
	_, _ = w.Write(b)
}
