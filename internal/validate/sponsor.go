package validate

import (
	"regexp"
	"strings"
)

// hrefDomain extracts link domains from episode show notes; a sponsor whose
// name matches a linked domain is treated as confirmed.
var hrefDomain = regexp.MustCompile(`(?i)<a\s[^>]*href=["']https?://(?:www\.)?([^/"'?#]+)`)

// knownSponsors match brands that run podcast campaigns at scale. A sponsor
// matching one of these is confirmed even without a show-notes link.
var knownSponsors = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbetter\s?help\b`),
	regexp.MustCompile(`(?i)\bsquarespace\b`),
	regexp.MustCompile(`(?i)\bnord\s?vpn\b`),
	regexp.MustCompile(`(?i)\bexpress\s?vpn\b`),
	regexp.MustCompile(`(?i)\bathletic greens\b`),
	regexp.MustCompile(`(?i)\bag1\b`),
	regexp.MustCompile(`(?i)\bhello\s?fresh\b`),
	regexp.MustCompile(`(?i)\baudible\b`),
	regexp.MustCompile(`(?i)\bskillshare\b`),
	regexp.MustCompile(`(?i)\bmanscaped\b`),
	regexp.MustCompile(`(?i)\braycon\b`),
	regexp.MustCompile(`(?i)\bcasper\b`),
	regexp.MustCompile(`(?i)\bzip\s?recruiter\b`),
	regexp.MustCompile(`(?i)\bstamps\.com\b`),
	regexp.MustCompile(`(?i)\bshopify\b`),
}

// sponsorConfirmed reports whether the extracted sponsor name is backed by a
// linked domain in the episode description or by the known-sponsor set.
func sponsorConfirmed(sponsor, description string) bool {
	sponsor = strings.TrimSpace(sponsor)
	if sponsor == "" {
		return false
	}

	compact := strings.ToLower(strings.ReplaceAll(sponsor, " ", ""))
	for _, m := range hrefDomain.FindAllStringSubmatch(description, -1) {
		domain := strings.ToLower(m[1])
		base := domain
		if i := strings.IndexByte(base, '.'); i > 0 {
			base = base[:i]
		}
		if strings.Contains(domain, compact) || (len(base) >= 4 && strings.Contains(compact, base)) {
			return true
		}
	}

	for _, re := range knownSponsors {
		if re.MatchString(sponsor) {
			return true
		}
	}
	return false
}
