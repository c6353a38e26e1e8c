package downloader

import (
	"regexp"
	"strings"

	"mediadrop/internal"
)

var heightToken = regexp.MustCompile(`\d+p`)

// SelectRendition maps a requested quality onto a rendition id. A request
// carrying a height marker such as "360p" picks the first rendition whose
// label contains the request; "best" and "worst" pick the rendition with
// that literal id. Anything that does not match falls back to "best", which
// yt-dlp resolves on its own.
func SelectRendition(renditions []internal.Rendition, requested string) string {
	if heightToken.MatchString(requested) {
		for _, r := range renditions {
			if strings.Contains(r.Label, requested) {
				return r.FormatID
			}
		}
		return internal.QualityBest
	}

	switch requested {
	case internal.QualityBest, internal.QualityWorst:
		for _, r := range renditions {
			if r.FormatID == requested {
				return r.FormatID
			}
		}
	}

	return internal.QualityBest
}

// NormalizeQuality trims and lowercases a requested quality, defaulting to best
func NormalizeQuality(quality string) string {
	quality = strings.ToLower(strings.TrimSpace(quality))
	if quality == "" {
		return internal.QualityBest
	}
	return quality
}
