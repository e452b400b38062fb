// Package matcher recognizes social-video links in message text.
//
// Matching is pure and deterministic: the same text always yields the same
// result, and evaluation has no side effects. Platforms are tried in a fixed
// priority order and only the first match whose platform is enabled is
// returned, so a message never produces more than one match.
package matcher

import "regexp"

// Platform identifies a supported video platform.
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
)

// Order is the fixed priority order in which platforms are evaluated.
var Order = []Platform{PlatformYouTube, PlatformTikTok, PlatformTwitter, PlatformInstagram}

// Match is a recognized video link.
type Match struct {
	Platform Platform
	VideoID  string
	// URL is the minimal canonical form of the link.
	URL string
}

var patterns = map[Platform]*regexp.Regexp{
	PlatformYouTube:   regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com/shorts/|youtu\.be/)([\w-]{11})`),
	PlatformTikTok:    regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:tiktok\.com/@[\w\.-]+/video/|vm\.tiktok\.com/)([\w-]+)`),
	PlatformTwitter:   regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:twitter\.com|x\.com)/[\w-]+/status/(\d+)`),
	PlatformInstagram: regexp.MustCompile(`(?:https?://)?(?:www\.)?instagram\.com/reel[s]?/([\w-]+)`),
}

// canonical builds the minimal canonical URL for a platform and video id.
func canonical(p Platform, id string) string {
	switch p {
	case PlatformYouTube:
		return "https://youtube.com/shorts/" + id
	case PlatformTikTok:
		return "https://vm.tiktok.com/" + id
	case PlatformTwitter:
		return "https://x.com/i/status/" + id
	case PlatformInstagram:
		return "https://www.instagram.com/reel/" + id + "/"
	}
	return ""
}

// Find returns the first enabled platform match in text, or nil.
// enabled may be nil, in which case all platforms are considered enabled.
func Find(text string, enabled map[Platform]bool) *Match {
	for _, p := range Order {
		if enabled != nil && !enabled[p] {
			continue
		}
		m := patterns[p].FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return &Match{
			Platform: p,
			VideoID:  m[1],
			URL:      canonical(p, m[1]),
		}
	}
	return nil
}

// ContainsLink reports whether text contains a link for any platform,
// enabled or not. Cheap pre-filter for the intake path.
func ContainsLink(text string) bool {
	for _, p := range Order {
		if patterns[p].MatchString(text) {
			return true
		}
	}
	return false
}
