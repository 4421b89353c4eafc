package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived keys. The version suffix leaves room for a
// different derivation without colliding with keys already on disk.
const (
	DomainQuery      = "layercache/query/v1"
	DomainForeignKey = "layercache/fk/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// QueryKey derives the collection key for a named query over typeName.
// The same type, query name and criteria always yield the same key,
// regardless of map iteration order.
//
// The key is "<query>-<hash prefix>" so collection files stay readable.
func QueryKey(typeName, queryName string, criteria Object) (string, error) {
	if criteria == nil {
		criteria = Object{}
	}
	canonical, err := MarshalCanonical(Object{
		"type":     String(typeName),
		"query":    String(queryName),
		"criteria": criteria,
	})
	if err != nil {
		return "", fmt.Errorf("query key: %w", err)
	}
	return queryName + "-" + hashWithDomain(DomainQuery, canonical)[:32], nil
}

// ForeignKeyCollectionKey derives the collection key for the implicit
// collection "all records of typeName whose foreignKey equals ownerID".
func ForeignKeyCollectionKey(typeName, foreignKey, ownerID string) string {
	canonical, _ := MarshalCanonical(Object{
		"type":        String(typeName),
		"foreign_key": String(foreignKey),
		"owner":       String(ownerID),
	})
	return "fk-" + foreignKey + "-" + hashWithDomain(DomainForeignKey, canonical)[:32]
}
