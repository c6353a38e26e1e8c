package utils

import (
	"fmt"
	"net/url"
	"strings"

	"mediadrop/internal"
)

// URLValidator checks submitted media URLs before they reach yt-dlp
type URLValidator struct {
	allowedDomains []string
}

// NewURLValidator creates a validator. With no domains every host is
// accepted; otherwise the host must equal or be a subdomain of one of them.
func NewURLValidator(allowedDomains ...string) *URLValidator {
	normalized := make([]string, 0, len(allowedDomains))
	for _, domain := range allowedDomains {
		if domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), "."); domain != "" {
			normalized = append(normalized, domain)
		}
	}
	return &URLValidator{allowedDomains: normalized}
}

// ValidateURL validates that rawURL is an absolute http(s) URL on an allowed host
func (v *URLValidator) ValidateURL(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return internal.NewValidationError("url", "URL cannot be empty").
			WithSuggestion("Paste the address of the video page")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationErrorWithValue("url", "URL must use http or https protocol", parsedURL.Scheme)
	}

	host := strings.ToLower(parsedURL.Hostname())
	if host == "" {
		return internal.NewValidationError("url", "URL must include a host")
	}

	if parsedURL.User != nil {
		return internal.NewValidationError("url", "URL must not contain credentials").
			WithSuggestion("Upload a cookies.txt file instead")
	}

	if !v.domainAllowed(host) {
		return internal.NewValidationErrorWithValue("url", "host is not allowed", host).
			WithContext("allowed", strings.Join(v.allowedDomains, ","))
	}

	return nil
}

func (v *URLValidator) domainAllowed(host string) bool {
	if len(v.allowedDomains) == 0 {
		return true
	}
	for _, domain := range v.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// ValidateMediaURL validates rawURL with no host restrictions
func ValidateMediaURL(rawURL string) error {
	return NewURLValidator().ValidateURL(rawURL)
}

// DeliveryURL builds the one-time link for name. base may be empty for a
// root-relative link or an absolute public address.
func DeliveryURL(base, name, token string) string {
	link := "/downloads/" + url.PathEscape(name)
	if token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	return strings.TrimRight(base, "/") + link
}
