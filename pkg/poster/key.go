package poster

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrEmptyURL is returned for an empty poster URL.
var ErrEmptyURL = errors.New("poster url is empty")

// Key returns the cache key for a poster URL. Scheme and host are
// lower-cased and the fragment dropped, so equivalent spellings share one
// entry. The key is itself a fetchable URL.
func Key(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", ErrEmptyURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse poster url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("poster url must be absolute (got %q)", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
