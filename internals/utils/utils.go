package utils

import (
	"errors"
	"net/url"
	"strings"
)

// ValidateURL normalizes the url of the backend. A missing scheme defaults to
// https. The path is kept because the backend usually lives below a context
// path, only query, fragment and trailing slashes are removed.
func ValidateURL(urlString string) (string, error) {
	urlString = strings.TrimSpace(urlString)
	if urlString == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(urlString, "://") {
		urlString = "https://" + urlString
	}
	u, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New("url without host")
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""

	return u.String(), nil
}

// Dedupe removes repeated values and keeps the first occurrence of each.
func Dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
