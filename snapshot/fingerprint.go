package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint returns a cheap content hash of the document, used to
// detect whether anything changed since the last successful push.
// encoding/json sorts map keys, so equal documents always produce equal
// fingerprints.
func Fingerprint(d *Document) string {
	data, err := json.Marshal(d)
	if err != nil {
		// A document is always JSON-marshalable; records come from
		// parsed JSON. Treat the impossible case as "always changed".
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
