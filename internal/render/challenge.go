package render

import "strings"

// challengeSignatures are body substrings seen on Cloudflare-style
// interstitial challenge pages; matched case-insensitively alongside a
// defensive status code.
var challengeSignatures = []string{
	"checking your browser before accessing",
	"cf-browser-verification",
	"attention required! | cloudflare",
	"please enable cookies",
	"ray id",
}

// isChallenge heuristically detects an anti-bot interstitial from the
// response status and a sample of the body.
func isChallenge(statusCode int, body string) bool {
	if statusCode != 403 && statusCode != 503 {
		return false
	}
	lower := strings.ToLower(body)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}
