// Package session manages the crawl credential lifecycle: caching, failure
// classification, and bounded refresh.
package session

import "encoding/json"

// Cookie is one entry of the browser storage-state bundle.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// Credential is the cookie/storage-state bundle required to fetch
// authenticated pages. Its expiry is unknown; validity is inferred only from
// fetch failures.
type Credential struct {
	Cookies []Cookie        `json:"cookies"`
	Origins json.RawMessage `json:"origins,omitempty"`
}

// Valid reports whether the bundle carries any cookies at all.
func (c Credential) Valid() bool {
	return len(c.Cookies) > 0
}

// CookieHeader renders the bundle as a Cookie request header value.
func (c Credential) CookieHeader() string {
	out := ""
	for i, ck := range c.Cookies {
		if i > 0 {
			out += "; "
		}
		out += ck.Name + "=" + ck.Value
	}
	return out
}
