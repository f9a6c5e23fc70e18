package adscan

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// sponsorKeys are the structural field names checked for a sponsor name, in
// priority order.
var sponsorKeys = []string{"sponsor", "sponsor_name", "brand", "advertiser", "company", "product"}

// sponsorDenylist rejects placeholder values models emit instead of a name.
var sponsorDenylist = map[string]struct{}{
	"none": {}, "unknown": {}, "n/a": {}, "na": {}, "null": {},
	"advertisement": {}, "ad": {}, "ads": {}, "sponsor": {},
	"podcast": {}, "this podcast": {}, "the podcast": {},
	"various": {}, "multiple": {}, "unclear": {},
}

// sponsorFromReason pulls a brand name out of free-form reason text, e.g.
// "host-read ad for BetterHelp with a promo code".
var sponsorFromReason = regexp.MustCompile(
	`(?:[Ss]ponsored by|[Bb]rought to you by|[Aa]d for|[Aa]dvertisement for|[Pp]romoting|[Pp]romo(?:tion)? for)\s+` +
		`([A-Z][A-Za-z0-9&.'-]*(?:\s+[A-Z][A-Za-z0-9&.'-]*){0,2})`)

// extractSponsor finds a sponsor name in a parsed ad object, falling back to
// a regex over the reason text. Denylisted values are discarded.
func extractSponsor(obj map[string]any, reason string) string {
	for _, key := range sponsorKeys {
		if s, ok := obj[key].(string); ok {
			if s = cleanSponsor(s); s != "" {
				return s
			}
		}
	}
	if m := sponsorFromReason.FindStringSubmatch(reason); m != nil {
		return cleanSponsor(m[1])
	}
	return ""
}

func cleanSponsor(s string) string {
	s = strings.TrimSpace(strings.Trim(s, `."'`))
	if s == "" {
		return ""
	}
	if _, banned := sponsorDenylist[strings.ToLower(s)]; banned {
		return ""
	}
	return s
}

// sponsorsMatch reports whether two extracted sponsor names refer to the
// same brand. Exact and substring matches are tried first, then a phonetic
// comparison so "Better Help" still matches "BetterHelp".
func sponsorsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}

	ca := strings.ReplaceAll(a, " ", "")
	cb := strings.ReplaceAll(b, " ", "")
	if ca == cb {
		return true
	}
	if matchr.JaroWinkler(ca, cb, false) >= 0.92 {
		return true
	}
	pa, _ := matchr.DoubleMetaphone(ca)
	pb, _ := matchr.DoubleMetaphone(cb)
	return pa != "" && pa == pb
}

// sponsorMentioned reports whether the sponsor name occurs in text, by
// substring or phonetically token by token.
func sponsorMentioned(sponsor, text string) bool {
	sponsor = strings.ToLower(strings.TrimSpace(sponsor))
	if sponsor == "" {
		return false
	}
	text = strings.ToLower(text)
	if strings.Contains(text, sponsor) || strings.Contains(strings.ReplaceAll(text, " ", ""), strings.ReplaceAll(sponsor, " ", "")) {
		return true
	}
	target, _ := matchr.DoubleMetaphone(strings.ReplaceAll(sponsor, " ", ""))
	if target == "" {
		return false
	}
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(tok) < 3 {
			continue
		}
		if p, _ := matchr.DoubleMetaphone(tok); p == target {
			return true
		}
	}
	return false
}
