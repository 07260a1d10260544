package core

import (
	"fmt"
	"strings"
)

// Domain is the short code of a top-level problem area.
type Domain string

const (
	DomainStress        Domain = "STR"
	DomainAnxiety       Domain = "ANX"
	DomainDepression    Domain = "DEP"
	DomainSleep         Domain = "SLP"
	DomainRelationships Domain = "REL"
)

// KnownDomains lists the domain codes in a stable order.
var KnownDomains = []Domain{
	DomainStress,
	DomainAnxiety,
	DomainDepression,
	DomainSleep,
	DomainRelationships,
}

var domainNames = map[string]Domain{
	"stress":        DomainStress,
	"anxiety":       DomainAnxiety,
	"depression":    DomainDepression,
	"sleep":         DomainSleep,
	"relationships": DomainRelationships,
	"relationship":  DomainRelationships,
}

// String returns the domain code.
func (d Domain) String() string {
	return string(d)
}

// Valid reports whether d is one of the known domain codes.
func (d Domain) Valid() bool {
	for _, known := range KnownDomains {
		if d == known {
			return true
		}
	}
	return false
}

// ParseDomain accepts a domain code ("str") or its long name ("Stress"),
// case-insensitively.
func ParseDomain(s string) (Domain, error) {
	trimmed := strings.TrimSpace(s)
	if d := Domain(strings.ToUpper(trimmed)); d.Valid() {
		return d, nil
	}
	if d, ok := domainNames[strings.ToLower(trimmed)]; ok {
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDomain, s)
}

// Scope is the unit of reconciliation: one entity kind within one domain.
type Scope struct {
	Domain Domain
	Kind   Kind
}

// String renders the scope as "kind/DOMAIN".
func (s Scope) String() string {
	return string(s.Kind) + "/" + string(s.Domain)
}

// Contains reports whether the document ID belongs to this scope.
func (s Scope) Contains(id DocID) bool {
	kind, domain, _, err := id.Parts()
	return err == nil && kind == s.Kind && domain == s.Domain
}

// EmbeddableScopes returns every scope that has a vector index mirror.
func EmbeddableScopes(domains ...Domain) []Scope {
	if len(domains) == 0 {
		domains = KnownDomains
	}
	scopes := make([]Scope, 0, len(domains)*len(EmbeddableKinds))
	for _, d := range domains {
		for _, k := range EmbeddableKinds {
			scopes = append(scopes, Scope{Domain: d, Kind: k})
		}
	}
	return scopes
}
