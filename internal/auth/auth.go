// Package auth supplies the authenticated-headers capability consumed by the
// map core. Token issuance itself lives outside this service; callers hand a
// bearer token in and the core only attaches it to outgoing requests.
package auth

import "net/http"

// Credentials is the injected authentication capability.
type Credentials interface {
	// Token returns the raw bearer token, empty when unauthenticated.
	Token() string
	// Headers returns the full authenticated header set, including the
	// Authorization bearer and the user's language.
	Headers() http.Header
}

type staticCredentials struct {
	token    string
	language string
}

// NewStatic wraps a fixed token and language into a Credentials.
func NewStatic(token, language string) Credentials {
	if language == "" {
		language = "en"
	}
	return &staticCredentials{token: token, language: language}
}

func (c *staticCredentials) Token() string { return c.token }

func (c *staticCredentials) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("Accept-Language", c.language)
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// Apply copies the credential headers onto an outgoing request.
func Apply(r *http.Request, creds Credentials) {
	if creds == nil {
		return
	}
	for k, vs := range creds.Headers() {
		for _, v := range vs {
			r.Header.Set(k, v)
		}
	}
}
