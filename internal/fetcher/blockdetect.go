package fetcher

import (
	"net/http"
	"strings"
)

// ChallengeType describes an anti-bot interstitial served in place of results.
type ChallengeType string

const (
	ChallengeNone       ChallengeType = ""
	ChallengeCloudflare ChallengeType = "cloudflare"
	ChallengeCaptcha    ChallengeType = "captcha"
	ChallengeJSShell    ChallengeType = "js_shell"
)

// DetectChallenge reports whether a portal response is a bot challenge rather
// than a results page. Challenges usually clear after a pause, so the fetcher
// treats them as transient.
func DetectChallenge(resp *http.Response, body []byte) (bool, ChallengeType) {
	if resp == nil {
		return false, ChallengeNone
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" ||
			resp.Header.Get("server") == "cloudflare" {
			return true, ChallengeCloudflare
		}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return false, ChallengeNone
	}

	// Results pages are large; markers are only trusted on small bodies so an
	// application description mentioning them cannot trip detection.
	if len(body) > 16<<10 {
		return false, ChallengeNone
	}
	lower := strings.ToLower(string(body))

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") {
		return true, ChallengeCloudflare
	}
	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "complete the captcha") {
		return true, ChallengeCaptcha
	}
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, ChallengeJSShell
		}
		if strings.Contains(lower, `meta http-equiv="refresh"`) {
			return true, ChallengeJSShell
		}
	}
	return false, ChallengeNone
}
