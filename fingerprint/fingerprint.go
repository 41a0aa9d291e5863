// Package fingerprint derives deterministic cache keys from query
// descriptors. Two logically identical queries always map to the same
// fingerprint: filters are canonically ordered before hashing, so callers
// may build filter lists in any order, while sort clauses keep their
// position because ordering is semantically meaningful there.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint is an opaque deterministic key for a query. It is only ever
// held in process memory and is never persisted.
type Fingerprint string

// Filter is a single predicate of a query (field, operator, operand).
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Sort is a single ordering clause. Position within the sort list matters.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Query describes an executed or executable data-layer query.
type Query struct {
	Resource  string
	Operation string
	Filters   []Filter
	Sorts     []Sort
	Text      string // raw query text, if the caller has one
}

// New computes the fingerprint of a query.
//
// The canonical encoding is resource, operation, the filters sorted by
// (field, op, encoded value), the sort clauses in caller order, and the raw
// text, joined with unambiguous separators and hashed with SHA-256. Filter
// values are JSON-encoded; values that cannot be marshaled fall back to
// their fmt representation so that fingerprinting itself never fails.
func New(q Query) Fingerprint {
	var sb strings.Builder

	sb.WriteString(q.Resource)
	sb.WriteByte('\x1f')
	sb.WriteString(q.Operation)
	sb.WriteByte('\x1f')

	encoded := make([]string, len(q.Filters))
	for i, f := range q.Filters {
		encoded[i] = f.Field + "\x1e" + f.Op + "\x1e" + encodeValue(f.Value)
	}
	sort.Strings(encoded)
	for _, e := range encoded {
		sb.WriteString(e)
		sb.WriteByte('\x1d')
	}
	sb.WriteByte('\x1f')

	for _, s := range q.Sorts {
		sb.WriteString(s.Field)
		if s.Desc {
			sb.WriteString("\x1edesc")
		} else {
			sb.WriteString("\x1easc")
		}
		sb.WriteByte('\x1d')
	}
	sb.WriteByte('\x1f')
	sb.WriteString(q.Text)

	sum := sha256.Sum256([]byte(sb.String()))
	return Fingerprint(hex.EncodeToString(sum[:]))
}

func encodeValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
