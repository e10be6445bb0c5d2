package ledger

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
	"github.com/google/go-querystring/query"
)

// SharePlatform names a social network with a web share intent.
type SharePlatform string

const (
	PlatformFacebook  SharePlatform = "facebook"
	PlatformTwitter   SharePlatform = "twitter"
	PlatformLinkedIn  SharePlatform = "linkedin"
	PlatformPinterest SharePlatform = "pinterest"
)

const (
	defaultFrontendURL  = "http://localhost:3000"
	defaultShareMessage = "I just restored this old photo with reviv.pics! Try it free: %s"
	instagramDeepLink   = "instagram://app"
)

// RedirectPlatforms lists the platforms routed through the server redirect.
func RedirectPlatforms() []SharePlatform {
	return []SharePlatform{PlatformFacebook, PlatformTwitter, PlatformLinkedIn, PlatformPinterest}
}

// ParseSharePlatform validates a platform path segment.
func ParseSharePlatform(raw string) (SharePlatform, error) {
	candidate := SharePlatform(strings.ToLower(strings.TrimSpace(raw)))
	for _, platform := range RedirectPlatforms() {
		if platform == candidate {
			return platform, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSharePlatform, raw)
}

// String returns the path representation.
func (platform SharePlatform) String() string {
	return string(platform)
}

// InstagramShare describes the manual share fallback.
type InstagramShare struct {
	Type     string `json:"type"`
	Caption  string `json:"caption"`
	DeepLink string `json:"deep_link"`
}

// ShareLinks builds referral links and platform share intents.
type ShareLinks struct {
	frontendURL string
	message     string
}

// NewShareLinks returns a builder rooted at the public frontend.
func NewShareLinks(frontendURL string) ShareLinks {
	normalized := strings.TrimRight(strings.TrimSpace(frontendURL), "/")
	if normalized == "" {
		normalized = defaultFrontendURL
	}
	return ShareLinks{frontendURL: normalized, message: defaultShareMessage}
}

// ReferralURL is the landing page link credited to the owner.
func (links ShareLinks) ReferralURL(ownerID restoration.OwnerID) string {
	base := links.frontendURL
	if base == "" {
		base = defaultFrontendURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return base + "?ref=" + url.QueryEscape(ownerID.String())
	}
	values := parsed.Query()
	values.Set("ref", ownerID.String())
	parsed.RawQuery = values.Encode()
	return parsed.String()
}

// Message is the share caption.
func (links ShareLinks) Message(ownerID restoration.OwnerID) string {
	message := links.message
	if message == "" {
		message = defaultShareMessage
	}
	return fmt.Sprintf(message, links.ReferralURL(ownerID))
}

// Instagram returns the manual share block.
func (links ShareLinks) Instagram(ownerID restoration.OwnerID) InstagramShare {
	return InstagramShare{Type: "manual", Caption: links.Message(ownerID), DeepLink: instagramDeepLink}
}

type facebookIntent struct {
	U string `url:"u"`
}

type twitterIntent struct {
	Text string `url:"text"`
}

type urlIntent struct {
	URL string `url:"url"`
}

// IntentURL returns the platform's share intent for the owner's referral link.
func (links ShareLinks) IntentURL(platform SharePlatform, ownerID restoration.OwnerID) (string, error) {
	referral := links.ReferralURL(ownerID)
	var (
		base   string
		params any
	)
	switch platform {
	case PlatformFacebook:
		base, params = "https://facebook.com/sharer.php", facebookIntent{U: referral}
	case PlatformTwitter:
		base, params = "https://twitter.com/intent/tweet", twitterIntent{Text: links.Message(ownerID)}
	case PlatformLinkedIn:
		base, params = "https://linkedin.com/sharing/share-offsite/", urlIntent{URL: referral}
	case PlatformPinterest:
		base, params = "https://pinterest.com/pin/create/button/", urlIntent{URL: referral}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSharePlatform, platform)
	}
	values, err := query.Values(params)
	if err != nil {
		return "", fmt.Errorf("encode share intent: %w", err)
	}
	return base + "?" + values.Encode(), nil
}
