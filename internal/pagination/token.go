package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Token is the decoded form of a continuation token.
type Token struct {
	PageSize   int       `json:"s"`
	PageNumber int       `json:"p"`
	SortBy     string    `json:"b,omitempty"`
	SortOrder  SortOrder `json:"o,omitempty"`
}

// EncodeToken creates an opaque continuation token.
func EncodeToken(t Token) string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeToken parses a continuation token.
// Returns false if the token is empty, malformed, or points before the first page.
func DecodeToken(s string) (Token, bool) {
	if s == "" {
		return Token{}, false
	}

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, false
	}

	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return Token{}, false
	}
	if t.PageNumber < 1 || t.PageSize < 1 {
		return Token{}, false
	}
	return t, true
}
