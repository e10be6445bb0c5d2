package orchestrator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/reviv/pkg/restoration"
)

var loopbackHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true}

// ResolvePublicURL turns the stored original location into a URL the provider can fetch.
func ResolvePublicURL(original string, publicBaseURL string) (string, error) {
	trimmed := strings.TrimSpace(original)
	if trimmed == "" {
		return "", fmt.Errorf("%w: source image url is empty", restoration.ErrConfiguration)
	}
	if strings.HasPrefix(trimmed, "/") {
		base := strings.TrimSpace(publicBaseURL)
		if base == "" {
			return "", fmt.Errorf("%w: source image url is relative and no public base url is configured", restoration.ErrConfiguration)
		}
		trimmed = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(trimmed, "/")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: source image url: %v", restoration.ErrConfiguration, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: source image url must be an http(s) url", restoration.ErrConfiguration)
	}
	if loopbackHosts[strings.ToLower(parsed.Hostname())] {
		return "", fmt.Errorf("%w: source image url must be publicly reachable", restoration.ErrConfiguration)
	}
	return parsed.String(), nil
}
