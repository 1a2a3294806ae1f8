package fetch

import (
	"fmt"
	"strings"
)

// Credentials is the access mode of a request, mirroring the fetch
// credentials modes.
type Credentials string

const (
	CredentialsOmit       Credentials = "omit"
	CredentialsInclude    Credentials = "include"
	CredentialsSameOrigin Credentials = "same-origin"
)

// Valid reports whether c is a known mode.
func (c Credentials) Valid() bool {
	switch c {
	case CredentialsOmit, CredentialsInclude, CredentialsSameOrigin:
		return true
	}
	return false
}

// CredentialRule is either a literal mode or a function of the target URI.
type CredentialRule struct {
	literal Credentials
	perURI  func(uri string) Credentials
}

// Literal returns a rule that always yields c.
func Literal(c Credentials) CredentialRule {
	return CredentialRule{literal: c}
}

// PerURI returns a rule evaluated against each target URI.
func PerURI(fn func(uri string) Credentials) CredentialRule {
	return CredentialRule{perURI: fn}
}

func (r CredentialRule) resolve(uri string) Credentials {
	if r.perURI != nil {
		return r.perURI(uri)
	}
	return r.literal
}

// CredentialStrategy is an ordered list of rules. Each rule contributes one
// attempt mode.
type CredentialStrategy []CredentialRule

// Strategy builds a strategy of literal modes.
func Strategy(modes ...Credentials) CredentialStrategy {
	s := make(CredentialStrategy, 0, len(modes))
	for _, m := range modes {
		s = append(s, Literal(m))
	}
	return s
}

// Resolve evaluates the strategy for uri, in declared order. An empty
// strategy resolves to omit.
func (s CredentialStrategy) Resolve(uri string) []Credentials {
	if len(s) == 0 {
		return []Credentials{CredentialsOmit}
	}
	out := make([]Credentials, 0, len(s))
	for _, r := range s {
		out = append(out, r.resolve(uri))
	}
	return out
}

// ParseStrategy parses a comma-separated list such as "include,omit".
func ParseStrategy(spec string) (CredentialStrategy, error) {
	var s CredentialStrategy
	for _, part := range strings.Split(spec, ",") {
		c := Credentials(strings.ToLower(strings.TrimSpace(part)))
		if c == "" {
			continue
		}
		if !c.Valid() {
			return nil, fmt.Errorf("invalid credentials mode: %q", part)
		}
		s = append(s, Literal(c))
	}
	if len(s) == 0 {
		return Strategy(CredentialsOmit), nil
	}
	return s, nil
}
