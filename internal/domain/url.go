package domain

import "net/url"

// hostOf extracts the host component of a URL string, returning "" if the
// string does not parse as a URL.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
