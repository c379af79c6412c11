package common

import (
	"errors"
	"regexp"
	"strings"
)

// Slack channel names are lowercase letters, digits, hyphens and underscores.
const maxChannelName = 80

var (
	ErrEmptySlug    = errors.New("slug cannot be empty")
	nonChannelChars = regexp.MustCompile(`[^a-z0-9_]+`)
)

// ChannelSlug turns a display name into the form Slack uses for channel
// names, e.g. "Acme & Co." becomes "acme-co".
func ChannelSlug(name string) (string, error) {
	slug := slugify(name)
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

// ChannelName joins prefix and the slug of name, truncated to Slack's limit.
func ChannelName(prefix, name string) (string, error) {
	slug, err := ChannelSlug(name)
	if err != nil {
		return "", err
	}
	full := prefix + slug
	if len(full) > maxChannelName {
		full = strings.TrimRight(full[:maxChannelName], "-")
	}
	return full, nil
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonChannelChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-_")
}
