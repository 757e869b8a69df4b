// Package hashing computes the deterministic content fingerprints recorded
// alongside every ledger-mirrored entity.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Fingerprint serializes the payload with its top-level keys sorted
// lexicographically, hashes the resulting JSON with SHA-256 and returns the
// hex digest prefixed with "0x" (66 characters total).
//
// Only top-level key order is normalized. Nested values are serialized by
// encoding/json as-is, so two payloads that differ only in the ordering of
// keys inside nested struct values are not guaranteed to collide to the same
// fingerprint. Known limitation, kept for compatibility with existing
// stored hashes.
func Fingerprint(payload map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", fmt.Errorf("marshal key %q: %w", k, err)
		}
		vb, err := json.Marshal(payload[k])
		if err != nil {
			return "", fmt.Errorf("marshal value for %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')

	sum := sha256.Sum256(buf.Bytes())
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// ID hashes an arbitrary identifier string with Keccak-256 and returns the
// "0x"-prefixed hex digest. Used for consent scopes and incentive rule ids
// passed to the ledger contracts.
func ID(s string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(s))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
