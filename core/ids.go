package core

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-crypt/x/blake2b"
)

// ID is a 64-bit content hash.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Hex renders the ID as a fixed-width hex string.
func (id ID) Hex() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// DocID is the stable identifier of a document: "<kind>/<DOMAIN>/<key>".
// The vector index derives its point identifiers from it.
type DocID string

// NewDocID builds the document ID of a natural key.
func NewDocID(kind Kind, domain Domain, key string) DocID {
	return DocID(string(kind) + "/" + string(domain) + "/" + key)
}

// ParseDocID validates and splits a document ID.
func ParseDocID(s string) (DocID, error) {
	id := DocID(s)
	if _, _, _, err := id.Parts(); err != nil {
		return "", err
	}
	return id, nil
}

// Parts splits the ID into its kind, domain and natural key.
func (id DocID) Parts() (Kind, Domain, string, error) {
	parts := strings.SplitN(string(id), "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidDocID, string(id))
	}
	kind := Kind(parts[0])
	if !kind.Valid() {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidDocID, string(id))
	}
	return kind, Domain(parts[1]), parts[2], nil
}

// Scope returns the scope the ID belongs to, or the zero scope if the ID
// is malformed.
func (id DocID) Scope() Scope {
	kind, domain, _, err := id.Parts()
	if err != nil {
		return Scope{}
	}
	return Scope{Domain: domain, Kind: kind}
}

// Key returns the natural key part of the ID.
func (id DocID) Key() string {
	_, _, key, _ := id.Parts()
	return key
}

// CanonicalID rewrites a raw identifier into the <DOMAIN>_<NN>[_<NN>...]
// form. Case and punctuation are ignored, numeric tokens are zero-padded to
// two digits, and the domain prefix is prepended when absent. An empty
// input yields an empty result.
func CanonicalID(domain Domain, raw string) string {
	tokens := idTokens(strings.ToUpper(raw))
	if len(tokens) == 0 {
		return ""
	}
	if !Domain(tokens[0]).Valid() && tokens[0] != string(domain) {
		tokens = append([]string{string(domain)}, tokens...)
	}
	return strings.Join(tokens, "_")
}

// LooksLikeSubCategoryID reports whether raw reads as a sub-category ID of
// the domain (the domain prefix followed by exactly two numbers) rather
// than free text. Category-level values such as "STR_04" do not qualify.
func LooksLikeSubCategoryID(domain Domain, raw string) bool {
	tokens := idTokens(strings.ToUpper(raw))
	if len(tokens) != 3 || tokens[0] != string(domain) {
		return false
	}
	for _, t := range tokens[1:] {
		if _, err := strconv.Atoi(t); err != nil {
			return false
		}
	}
	return true
}

// SyntheticID creates a deterministic stand-in key for a row whose
// identifier was empty.
func SyntheticID(domain Domain, kind Kind, row int) string {
	return fmt.Sprintf("%s_SYN_%s_%04d", domain, kind.code(), row)
}

// CategoryOf returns the "<DOMAIN>_<NN>" category prefix of a
// sub-category ID, or the ID itself when it has no second level.
func CategoryOf(subCategoryID string) string {
	parts := strings.Split(subCategoryID, "_")
	if len(parts) < 2 {
		return subCategoryID
	}
	return parts[0] + "_" + parts[1]
}

func idTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, splitAlphaNumeric(f)...)
	}
	return tokens
}

// splitAlphaNumeric canonicalizes one punctuation-free token. A domain code
// glued to a number ("STR04") is split in two; other letter-number tokens
// ("Q3") keep their letters and get a padded number ("Q03").
func splitAlphaNumeric(tok string) []string {
	if n, err := strconv.Atoi(tok); err == nil {
		return []string{pad(n)}
	}
	i := strings.IndexFunc(tok, unicode.IsDigit)
	if i <= 0 {
		return []string{tok}
	}
	letters, digits := tok[:i], tok[i:]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return []string{tok}
	}
	if Domain(letters).Valid() {
		return []string{letters, pad(n)}
	}
	return []string{letters + pad(n)}
}

func pad(n int) string {
	return fmt.Sprintf("%02d", n)
}
