package fingerprint

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	"github.com/flak3dd/manifold/api/schemas"
)

// WAF bot-management products score geo coherence before any behavioral
// analysis. A US exit with an Australian timezone and en-AU locale is a
// first-pass hard flag, so profiles bound to a proxy get validated (and
// optionally corrected) against the exit country.

// Severity ranks a geo violation.
type Severity string

const (
	// SeverityHard will trigger detection on most WAFs by itself.
	SeverityHard Severity = "hard"
	// SeveritySoft is suspicious but rarely decisive alone.
	SeveritySoft Severity = "soft"
	// SeverityInfo is low-signal but worth surfacing.
	SeverityInfo Severity = "info"
)

// Violation is one geo-coherence finding.
type Violation struct {
	Code        string   `json:"code"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Fields      []string `json:"fields"`
	Suggestion  string   `json:"suggestion"`
}

// AutoCorrectResult splits violations into those the corrector resolved
// and those needing manual action.
type AutoCorrectResult struct {
	Fixed    []Violation `json:"fixed"`
	Residual []Violation `json:"residual"`
}

// Clean reports whether nothing is left to fix.
func (r AutoCorrectResult) Clean() bool { return len(r.Residual) == 0 }

// HardCount counts residual hard violations.
func (r AutoCorrectResult) HardCount() int {
	n := 0
	for _, v := range r.Residual {
		if v.Severity == SeverityHard {
			n++
		}
	}
	return n
}

// Validate checks a fingerprint's internal coherence and, when
// proxyCountry is a non-empty ISO 3166-1 alpha-2 code, its fit with the
// proxy exit. Results are sorted hard first.
func Validate(fp *schemas.Fingerprint, proxyCountry string) []Violation {
	var out []Violation

	checkPlatformConsistency(fp, &out)
	checkLocaleTZConsistency(fp, &out)
	checkAcceptLanguageLocale(fp, &out)
	checkMacDPR(fp, &out)

	if cc := strings.ToUpper(proxyCountry); cc != "" {
		checkLocaleVsCountry(fp, cc, &out)
		checkTZVsCountry(fp, cc, &out)
		check4KVsCountry(fp, cc, &out)
		checkDPRVsCountry(fp, cc, &out)
	}

	rank := map[Severity]int{SeverityHard: 0, SeveritySoft: 1, SeverityInfo: 2}
	sort.SliceStable(out, func(i, j int) bool {
		return rank[out[i].Severity] < rank[out[j].Severity]
	})
	return out
}

// ConsistencyScore folds violations into a 0..1 score, 1 meaning clean.
func ConsistencyScore(fp *schemas.Fingerprint, proxyCountry string) float64 {
	penalty := 0.0
	for _, v := range Validate(fp, proxyCountry) {
		switch v.Severity {
		case SeverityHard:
			penalty += 0.50
		case SeveritySoft:
			penalty += 0.20
		default:
			penalty += 0.05
		}
	}
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}

// AutoCorrect aligns locale, accept-language, and timezone with the proxy
// country, then fixes the resolvable screen findings. Correction draws
// from the fingerprint seed so repeat runs converge on the same values.
func AutoCorrect(fp *schemas.Fingerprint, proxyCountry string) AutoCorrectResult {
	before := Validate(fp, proxyCountry)
	if len(before) == 0 {
		return AutoCorrectResult{}
	}

	EnforceGeo(fp, proxyCountry)

	cc := strings.ToUpper(proxyCountry)
	rng := rand.New(rand.NewSource(int64(fp.Seed ^ 0xc0ffee)))

	if is4KOrAbove(fp.ScreenWidth, fp.ScreenHeight) && !allows4K(cc) {
		fp.ScreenWidth = 1920
		fp.ScreenHeight = 1080
		fp.ViewportWidth = 1920
		fp.ViewportHeight = 1080 - (88 + 40 + rng.Intn(20))
		if rng.Float64() < 0.3 {
			fp.DevicePixelRatio = 1.25
		} else {
			fp.DevicePixelRatio = 1.0
		}
	}
	if fp.DevicePixelRatio >= 2.0 && !allowsHighDPR(cc) {
		fp.DevicePixelRatio = 1.0
	}

	after := Validate(fp, proxyCountry)

	var fixed []Violation
	for _, v := range before {
		resolved := true
		for _, a := range after {
			if a.Code == v.Code {
				resolved = false
				break
			}
		}
		if resolved {
			fixed = append(fixed, v)
		}
	}
	return AutoCorrectResult{Fixed: fixed, Residual: after}
}

// enforcedLocales carries the canonical locale triples per country for
// EnforceGeo. Countries outside the table fall back to US English.
var enforcedLocales = map[string][]localeTriple{
	"US": {
		{"en-US", "en-US,en;q=0.9", "America/New_York"},
		{"en-US", "en-US,en;q=0.9", "America/Chicago"},
		{"en-US", "en-US,en;q=0.9", "America/Los_Angeles"},
		{"en-US", "en-US,en;q=0.9", "America/Denver"},
	},
	"GB": {{"en-GB", "en-GB,en;q=0.9", "Europe/London"}},
	"IE": {{"en-IE", "en-IE,en;q=0.9", "Europe/Dublin"}},
	"AU": {
		{"en-AU", "en-AU,en;q=0.9", "Australia/Sydney"},
		{"en-AU", "en-AU,en;q=0.9", "Australia/Melbourne"},
	},
	"NZ": {{"en-NZ", "en-NZ,en;q=0.9", "Pacific/Auckland"}},
	"CA": {
		{"en-CA", "en-CA,en;q=0.9,fr-CA;q=0.8", "America/Toronto"},
		{"en-CA", "en-CA,en;q=0.9,fr-CA;q=0.8", "America/Vancouver"},
	},
	"DE": {{"de-DE", "de-DE,de;q=0.9,en;q=0.8", "Europe/Berlin"}},
	"AT": {{"de-AT", "de-AT,de;q=0.9,en;q=0.8", "Europe/Vienna"}},
	"CH": {{"de-CH", "de-CH,de;q=0.9,en;q=0.8", "Europe/Zurich"}},
	"FR": {{"fr-FR", "fr-FR,fr;q=0.9,en;q=0.8", "Europe/Paris"}},
	"BE": {{"nl-BE", "nl-BE,nl;q=0.9,fr;q=0.8,en;q=0.7", "Europe/Brussels"}},
	"NL": {{"nl-NL", "nl-NL,nl;q=0.9,en;q=0.8", "Europe/Amsterdam"}},
	"ES": {{"es-ES", "es-ES,es;q=0.9,en;q=0.8", "Europe/Madrid"}},
	"MX": {{"es-MX", "es-MX,es;q=0.9,en;q=0.8", "America/Mexico_City"}},
	"IT": {{"it-IT", "it-IT,it;q=0.9,en;q=0.8", "Europe/Rome"}},
	"PT": {{"pt-PT", "pt-PT,pt;q=0.9,en;q=0.8", "Europe/Lisbon"}},
	"BR": {{"pt-BR", "pt-BR,pt;q=0.9,en;q=0.8", "America/Sao_Paulo"}},
	"PL": {{"pl-PL", "pl-PL,pl;q=0.9,en;q=0.8", "Europe/Warsaw"}},
	"SE": {{"sv-SE", "sv-SE,sv;q=0.9,en;q=0.8", "Europe/Stockholm"}},
	"NO": {{"nb-NO", "nb-NO,nb;q=0.9,en;q=0.8", "Europe/Oslo"}},
	"DK": {{"da-DK", "da-DK,da;q=0.9,en;q=0.8", "Europe/Copenhagen"}},
	"FI": {{"fi-FI", "fi-FI,fi;q=0.9,en;q=0.8", "Europe/Helsinki"}},
	"CZ": {{"cs-CZ", "cs-CZ,cs;q=0.9,en;q=0.8", "Europe/Prague"}},
	"JP": {{"ja-JP", "ja-JP,ja;q=0.9,en;q=0.8", "Asia/Tokyo"}},
	"KR": {{"ko-KR", "ko-KR,ko;q=0.9,en;q=0.8", "Asia/Seoul"}},
	"SG": {{"en-SG", "en-SG,en;q=0.9,zh;q=0.8", "Asia/Singapore"}},
	"IN": {{"en-IN", "en-IN,en;q=0.9,hi;q=0.8", "Asia/Kolkata"}},
	"ZA": {{"en-ZA", "en-ZA,en;q=0.9", "Africa/Johannesburg"}},
}

// EnforceGeo rewrites locale, accept-language, and timezone to fit the
// proxy country. The pick is seeded from the fingerprint, so enforcement
// is stable per profile.
func EnforceGeo(fp *schemas.Fingerprint, proxyCountry string) {
	cc := strings.ToUpper(proxyCountry)
	options, ok := enforcedLocales[cc]
	if !ok {
		options = enforcedLocales["US"]
	}

	h := fnv.New64a()
	h.Write([]byte(cc))
	rng := rand.New(rand.NewSource(int64(fp.Seed ^ h.Sum64())))

	t := options[rng.Intn(len(options))]
	fp.Locale = t.locale
	fp.AcceptLanguage = t.acceptLanguage
	fp.Timezone = t.timezone
}

// -- Country rule tables --

// allowedLocalePrefixes returns the BCP-47 prefixes plausible for a
// country; the check is prefix-based, so "en-US" satisfies "en-".
func allowedLocalePrefixes(cc string) []string {
	switch cc {
	case "US":
		return []string{"en-US", "en-"}
	case "GB":
		return []string{"en-GB", "en-"}
	case "CA":
		return []string{"en-CA", "fr-CA", "en-", "fr-"}
	case "AU":
		return []string{"en-AU", "en-"}
	case "NZ":
		return []string{"en-NZ", "en-"}
	case "IE":
		return []string{"en-IE", "en-"}
	case "DE":
		return []string{"de-DE", "de-AT", "de-CH", "de-"}
	case "AT":
		return []string{"de-AT", "de-"}
	case "CH":
		return []string{"de-CH", "fr-CH", "it-CH", "de-", "fr-", "it-"}
	case "FR":
		return []string{"fr-FR", "fr-"}
	case "BE":
		return []string{"fr-BE", "nl-BE", "de-BE", "fr-", "nl-", "de-"}
	case "NL":
		return []string{"nl-NL", "nl-"}
	case "ES":
		return []string{"es-ES", "es-", "ca-", "gl-", "eu-"}
	case "MX":
		return []string{"es-MX", "es-"}
	case "AR":
		return []string{"es-AR", "es-"}
	case "IT":
		return []string{"it-IT", "it-"}
	case "PT":
		return []string{"pt-PT", "pt-"}
	case "BR":
		return []string{"pt-BR", "pt-"}
	case "PL":
		return []string{"pl-PL", "pl-"}
	case "SE":
		return []string{"sv-SE", "sv-"}
	case "NO":
		return []string{"nb-NO", "nn-NO", "no-", "nb-", "nn-"}
	case "DK":
		return []string{"da-DK", "da-"}
	case "FI":
		return []string{"fi-FI", "fi-", "sv-FI"}
	case "CZ":
		return []string{"cs-CZ", "cs-"}
	case "JP":
		return []string{"ja-JP", "ja-"}
	case "KR":
		return []string{"ko-KR", "ko-"}
	case "CN":
		return []string{"zh-CN", "zh-Hans", "zh-"}
	case "TW":
		return []string{"zh-TW", "zh-Hant", "zh-"}
	case "HK":
		return []string{"zh-HK", "zh-", "en-HK", "en-"}
	case "SG":
		return []string{"en-SG", "zh-SG", "ms-SG", "en-", "zh-"}
	case "IN":
		return []string{"en-IN", "hi-IN", "en-", "hi-"}
	case "SA":
		return []string{"ar-SA", "ar-"}
	case "AE":
		return []string{"ar-AE", "ar-", "en-"}
	case "IL":
		return []string{"he-IL", "he-", "en-"}
	case "ZA":
		return []string{"en-ZA", "af-ZA", "en-", "af-"}
	default:
		return []string{"en-"}
	}
}

// allowedTZPrefixes returns the IANA prefixes plausible for a country.
// An empty slice disables the check.
func allowedTZPrefixes(cc string) []string {
	switch cc {
	case "US", "CA", "MX", "AR", "CO", "BR", "CL", "PE":
		return []string{"America/"}
	case "GB", "IE":
		return []string{"Europe/London", "Europe/Dublin"}
	case "DE", "AT", "CH", "FR", "BE", "NL", "ES", "IT", "PT", "PL",
		"SE", "NO", "DK", "FI", "CZ", "SK", "HU", "RO", "BG", "HR", "GR", "TR", "UA", "RU":
		return []string{"Europe/"}
	case "AU", "NZ":
		return []string{"Australia/", "Pacific/"}
	case "JP":
		return []string{"Asia/Tokyo"}
	case "KR":
		return []string{"Asia/Seoul"}
	case "CN", "TW", "HK", "SG", "MY", "ID", "PH", "TH", "VN", "IN", "SA", "AE", "IL":
		return []string{"Asia/"}
	case "ZA", "NG", "KE", "ET", "GH", "TZ", "UG":
		return []string{"Africa/"}
	default:
		return nil
	}
}

func is4KOrAbove(w, h int) bool { return w >= 3840 && h >= 2160 }

// allows4K lists countries where 4K desktop penetration is realistic.
func allows4K(cc string) bool {
	switch cc {
	case "US", "CA", "GB", "AU", "DE", "FR", "NL", "SE", "NO", "DK", "FI",
		"CH", "AT", "JP", "KR", "SG", "HK", "TW", "NZ", "IE", "BE", "IT", "ES", "PT", "PL":
		return true
	}
	return false
}

// allowsHighDPR is permissive; only markets with very low consumer
// electronics spend get flagged for DPR 2+.
func allowsHighDPR(cc string) bool {
	switch cc {
	case "NG", "ET", "UG", "TZ", "GH", "KE", "BD", "KH", "LA", "MM":
		return false
	}
	return true
}

// -- Individual checks --

func checkPlatformConsistency(fp *schemas.Fingerprint, out *[]Violation) {
	ok := true
	switch fp.UAPlatform {
	case "Windows":
		ok = fp.Platform == "Win32"
	case "macOS":
		ok = fp.Platform == "MacIntel"
	case "Linux":
		ok = strings.HasPrefix(fp.Platform, "Linux")
	}
	if !ok {
		*out = append(*out, Violation{
			Code:     "PLATFORM_UA_MISMATCH",
			Severity: SeverityHard,
			Description: fmt.Sprintf("navigator.platform %q is inconsistent with ua_platform %q",
				fp.Platform, fp.UAPlatform),
			Fields:     []string{"platform", "ua_platform"},
			Suggestion: "regenerate the fingerprint or align ua_platform with platform",
		})
	}
}

func checkLocaleTZConsistency(fp *schemas.Fingerprint, out *[]Violation) {
	parts := strings.SplitN(fp.Locale, "-", 2)
	region := ""
	if len(parts) == 2 {
		region = strings.ToUpper(parts[1])
	}
	continent := strings.ToLower(strings.SplitN(fp.Timezone, "/", 2)[0])

	mismatch := false
	switch region {
	case "DE", "AT", "CH", "FR", "NL", "BE", "PL", "SE", "NO", "DK", "FI",
		"IT", "ES", "PT", "GR", "CZ", "SK", "HU", "RO", "BG", "HR":
		mismatch = continent != "europe"
	case "JP":
		mismatch = fp.Timezone != "Asia/Tokyo"
	case "KR":
		mismatch = fp.Timezone != "Asia/Seoul"
	case "AU":
		mismatch = continent != "australia"
	case "BR", "US", "CA":
		mismatch = continent != "america"
	}

	if mismatch {
		*out = append(*out, Violation{
			Code:     "LOCALE_TZ_MISMATCH",
			Severity: SeverityHard,
			Description: fmt.Sprintf("locale %q is incompatible with timezone %q",
				fp.Locale, fp.Timezone),
			Fields:     []string{"locale", "timezone"},
			Suggestion: "auto-correct to align the timezone with the locale region",
		})
	}
}

func checkAcceptLanguageLocale(fp *schemas.Fingerprint, out *[]Violation) {
	localeLang := strings.ToLower(strings.SplitN(fp.Locale, "-", 2)[0])

	first := strings.TrimSpace(strings.SplitN(fp.AcceptLanguage, ",", 2)[0])
	first = strings.SplitN(first, ";", 2)[0]
	firstLang := strings.ToLower(strings.SplitN(first, "-", 2)[0])

	if firstLang != localeLang {
		*out = append(*out, Violation{
			Code:     "ACCEPT_LANGUAGE_LOCALE_MISMATCH",
			Severity: SeverityHard,
			Description: fmt.Sprintf("accept_language primary tag %q does not match locale language %q",
				first, fp.Locale),
			Fields:     []string{"accept_language", "locale"},
			Suggestion: "make accept_language start with the locale's language tag",
		})
		return
	}

	if !strings.EqualFold(first, fp.Locale) && !strings.EqualFold(first, localeLang) {
		*out = append(*out, Violation{
			Code:     "ACCEPT_LANGUAGE_LOCALE_PARTIAL_MISMATCH",
			Severity: SeveritySoft,
			Description: fmt.Sprintf("first accept_language entry %q does not exactly match locale %q",
				first, fp.Locale),
			Fields:     []string{"accept_language", "locale"},
			Suggestion: "make the first accept-language value exactly the locale tag",
		})
	}
}

func checkMacDPR(fp *schemas.Fingerprint, out *[]Violation) {
	if fp.UAPlatform != "macOS" {
		return
	}
	if is4KOrAbove(fp.ScreenWidth, fp.ScreenHeight) && fp.DevicePixelRatio < 1.5 {
		*out = append(*out, Violation{
			Code:     "MACOS_4K_LOW_DPR",
			Severity: SeveritySoft,
			Description: fmt.Sprintf("macOS with a 4K screen (%dx%d) but pixel ratio %.2f; Retina displays report 2.0",
				fp.ScreenWidth, fp.ScreenHeight, fp.DevicePixelRatio),
			Fields:     []string{"ua_platform", "screen_width", "screen_height", "device_pixel_ratio"},
			Suggestion: "set device_pixel_ratio to 2.0 or drop below 4K",
		})
	}
	if fp.ScreenWidth >= 2560 && fp.DevicePixelRatio < 1.5 {
		*out = append(*out, Violation{
			Code:     "MACOS_HIGH_RES_LOW_DPR",
			Severity: SeverityInfo,
			Description: fmt.Sprintf("macOS with a %dpx screen at pixel ratio %.2f; most modern Macs are Retina",
				fp.ScreenWidth, fp.DevicePixelRatio),
			Fields:     []string{"ua_platform", "screen_width", "device_pixel_ratio"},
			Suggestion: "consider device_pixel_ratio 2.0 for high-res macOS profiles",
		})
	}
}

func checkLocaleVsCountry(fp *schemas.Fingerprint, cc string, out *[]Violation) {
	allowed := allowedLocalePrefixes(cc)
	locale := strings.ToLower(fp.Locale)
	for _, prefix := range allowed {
		if strings.HasPrefix(locale, strings.ToLower(prefix)) {
			return
		}
	}
	*out = append(*out, Violation{
		Code:     "LOCALE_COUNTRY_MISMATCH",
		Severity: SeverityHard,
		Description: fmt.Sprintf("locale %q is not plausible for proxy country %q (expected one of %s)",
			fp.Locale, cc, strings.Join(allowed, ", ")),
		Fields:     []string{"locale", "proxy_country"},
		Suggestion: fmt.Sprintf("auto-correct or set a locale matching %q", cc),
	})
}

func checkTZVsCountry(fp *schemas.Fingerprint, cc string, out *[]Violation) {
	allowed := allowedTZPrefixes(cc)
	if len(allowed) == 0 {
		return
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(fp.Timezone, prefix) {
			return
		}
	}
	*out = append(*out, Violation{
		Code:     "TIMEZONE_COUNTRY_MISMATCH",
		Severity: SeverityHard,
		Description: fmt.Sprintf("timezone %q is not plausible for proxy country %q (expected prefix %s)",
			fp.Timezone, cc, strings.Join(allowed, " or ")),
		Fields:     []string{"timezone", "proxy_country"},
		Suggestion: fmt.Sprintf("auto-correct or set a timezone matching %q", cc),
	})
}

func check4KVsCountry(fp *schemas.Fingerprint, cc string, out *[]Violation) {
	if is4KOrAbove(fp.ScreenWidth, fp.ScreenHeight) && !allows4K(cc) {
		*out = append(*out, Violation{
			Code:     "4K_SCREEN_COUNTRY_UNREALISTIC",
			Severity: SeveritySoft,
			Description: fmt.Sprintf("a 4K screen (%dx%d) is statistically rare for proxy country %q",
				fp.ScreenWidth, fp.ScreenHeight, cc),
			Fields:     []string{"screen_width", "screen_height", "proxy_country"},
			Suggestion: "use 1920x1080 for this country or auto-correct",
		})
	}
}

func checkDPRVsCountry(fp *schemas.Fingerprint, cc string, out *[]Violation) {
	if fp.DevicePixelRatio >= 2.0 && !allowsHighDPR(cc) {
		*out = append(*out, Violation{
			Code:     "HIGH_DPR_COUNTRY_UNUSUAL",
			Severity: SeverityInfo,
			Description: fmt.Sprintf("pixel ratio %.1f is unusual for proxy country %q",
				fp.DevicePixelRatio, cc),
			Fields:     []string{"device_pixel_ratio", "proxy_country"},
			Suggestion: "consider pixel ratio 1.0 for this country",
		})
	}
}
