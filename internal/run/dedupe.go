package run

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/kotae-ai/kotae/internal/model"
)

// DedupeRows returns the rows from incoming that are not structurally
// identical (same keys, same values) to any row in existing, preserving
// the relative order of the survivors. Inputs are never mutated. Rows
// with differing key sets are never considered duplicates of each other.
func DedupeRows(existing, incoming []model.Row) []model.Row {
	if len(incoming) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		seen[rowFingerprint(row)] = struct{}{}
	}

	out := make([]model.Row, 0, len(incoming))
	for _, row := range incoming {
		if _, dup := seen[rowFingerprint(row)]; dup {
			continue
		}
		out = append(out, row)
	}
	return out
}

// SameColumnShape reports whether two rows carry the same sorted key set.
// Used to detect schema drift between pagination pages.
func SameColumnShape(a, b model.Row) bool {
	if len(a) != len(b) {
		return false
	}
	ka, kb := sortedKeys(a), sortedKeys(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// rowFingerprint produces a canonical SHA-256 digest of a row. Keys are
// visited in sorted order and each key and value is length-prefixed, so
// freeform values cannot collide across field boundaries. Values are
// JSON-encoded for a deterministic byte form (object keys sort during
// marshaling).
func rowFingerprint(row model.Row) string {
	h := sha256.New()
	writeField := func(b []byte) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}

	for _, k := range sortedKeys(row) {
		writeField([]byte(k))
		encoded, err := json.Marshal(row[k])
		if err != nil {
			// Only reachable with hand-built rows holding unmarshalable
			// values; keep the fingerprint total anyway.
			encoded = []byte("<unencodable>")
		}
		writeField(encoded)
	}
	return string(h.Sum(nil))
}

func sortedKeys(row model.Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
