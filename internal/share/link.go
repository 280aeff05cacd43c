package share

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"sharemirror/internal/models"
)

var ErrMalformedLink = errors.New("malformed share link")

var (
	codePattern   = regexp.MustCompile(`(?i)/s/([a-z0-9]+)`)
	secretPattern = regexp.MustCompile(`[?&]password=([^&#]+)`)
)

// ParseLink extracts the share code and access secret from a user supplied link.
// A non-empty secret overrides the one embedded in the link.
func ParseLink(link, secret string) (models.ShareRef, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return models.ShareRef{}, fmt.Errorf("%w: link is empty", ErrMalformedLink)
	}

	m := codePattern.FindStringSubmatch(link)
	if m == nil {
		return models.ShareRef{}, fmt.Errorf("%w: no share code in link", ErrMalformedLink)
	}

	ref := models.ShareRef{URL: link, Code: m[1]}
	if pm := secretPattern.FindStringSubmatch(link); pm != nil {
		if v, err := url.QueryUnescape(pm[1]); err == nil {
			ref.Secret = v
		} else {
			ref.Secret = pm[1]
		}
	}
	if s := strings.TrimSpace(secret); s != "" {
		ref.Secret = s
	}
	return ref, nil
}
