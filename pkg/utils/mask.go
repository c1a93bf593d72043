package utils

import (
	"net/url"
	"regexp"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@/]+)(@)`)

// MaskDSN hides the password of a user:pass@host connection string.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskURL hides the password of a broker or database URL. Unparseable input
// falls back to MaskDSN.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return MaskDSN(raw)
	}
	return u.Redacted()
}
