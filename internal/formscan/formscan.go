// Package formscan guesses login-form selectors and automation hints
// from rendered page HTML. The heuristics are deliberately shallow:
// they suggest a starting FormDescriptor for an operator to review, not
// a guaranteed mapping.
package formscan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/flak3dd/manifold/api/schemas"
	"github.com/flak3dd/manifold/internal/browser"
)

// Timeouts below the floor are meaningless for a real page load; above
// the ceiling they just hold the session hostage.
const (
	minTimeoutMs = 10000
	maxTimeoutMs = 60000

	minWaitMs = 1000
	maxWaitMs = 15000
)

// Page is the slice of a browser session the scanner needs: load the
// target URL and hand back the rendered document. *browser.Session
// satisfies it.
type Page interface {
	Navigate(ctx context.Context, url string) (*browser.NavigateResult, error)
	PageHTML(ctx context.Context) (string, error)
}

// Scan loads url in the page and analyzes whatever the renderer settled
// on, so SPA-built forms are visible to the heuristics. timeoutMs
// bounds the whole navigate-and-extract round trip and is clamped to
// [10s, 60s].
func Scan(ctx context.Context, page Page, url string, timeoutMs int) (*schemas.FormScrapeResult, error) {
	if url == "" || (!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://")) {
		return nil, errors.New("scrape url must start with http:// or https://")
	}
	timeoutMs = clampTimeout(timeoutMs)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	nav, err := page.Navigate(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("scrape navigation: %w", err)
	}
	pageHTML, err := page.PageHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape extract: %w", err)
	}
	return Analyze(nav.URL, pageHTML, timeoutMs)
}

// Analyze runs the selector heuristics over pageHTML. pageURL is only
// recorded in the result; timeoutMs feeds the suggested timeout after
// clamping. Malformed HTML is not an error: the parser recovers and the
// heuristics simply find less.
func Analyze(pageURL, pageHTML string, timeoutMs int) (*schemas.FormScrapeResult, error) {
	doc, err := htmlquery.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	res := &schemas.FormScrapeResult{
		URL:                pageURL,
		SuggestedTimeoutMs: clampTimeout(timeoutMs),
	}

	// Username, password, submit, success and failure are the critical
	// fields; each found one raises confidence and counts toward the
	// all-critical bonus.
	critical := 0
	if sel := findUsernameField(doc); sel != "" {
		res.UsernameSelector = sel
		res.Confidence += 20
		critical++
	}
	if sel := findPasswordField(doc); sel != "" {
		res.PasswordSelector = sel
		res.Confidence += 20
		critical++
	}
	if sel := findSubmitButton(doc); sel != "" {
		res.SubmitSelector = sel
		res.Confidence += 20
		critical++
	}
	if hits := matchPool(doc, successPool); len(hits) > 0 {
		res.SuccessSelectors = hits
		res.Confidence += 15
		critical++
	}
	if hits := matchPool(doc, failurePool); len(hits) > 0 {
		res.FailureSelectors = hits
		res.Confidence += 10
		critical++
	}

	captchaElement := hasCaptchaElement(doc)
	if captchaElement {
		res.Confidence += 5
	}
	if sel := findTOTPField(doc); sel != "" {
		res.TOTPFieldSelector = sel
		res.Confidence += 5
	}
	if critical >= 3 {
		res.Confidence += 5
	}
	if res.Confidence > 100 {
		res.Confidence = 100
	}

	providers := captchaProviders(pageHTML)
	res.CaptchaPresent = captchaElement || len(providers) > 0
	if len(providers) > 0 {
		res.CaptchaType = providers[0]
		for _, p := range providers[1:] {
			res.Notes = append(res.Notes, "additional captcha provider: "+p)
		}
	}

	res.SPADetected = detectSPA(pageHTML)
	if fw := detectFramework(pageHTML); fw != "" {
		res.Notes = append(res.Notes, fw+" front-end detected")
	}

	res.MFALikely = res.TOTPFieldSelector != "" || hasMFAKeywords(strings.ToLower(pageHTML))

	// Pages heavy on scripts and images need longer settle times before
	// the login form is really interactive.
	scripts := len(htmlquery.Find(doc, "//script"))
	images := len(htmlquery.Find(doc, "//img"))
	res.SuggestedWaitMs = clampWait(scripts*200 + images*50)

	return res, nil
}

// Candidate pools are probed in priority order; within a pool only the
// first document match is considered.
var usernamePools = []string{
	"//input[@type='email']",
	"//input[contains(@name,'email')]",
	"//input[contains(@name,'username')]",
	"//input[contains(@name,'user')]",
	"//input[contains(@placeholder,'email')]",
	"//input[contains(@placeholder,'username')]",
}

var totpPools = []string{
	"//input[contains(@name,'totp')]",
	"//input[contains(@name,'2fa')]",
	"//input[contains(@name,'mfa')]",
	"//input[contains(@placeholder,'code')]",
	"//input[contains(@placeholder,'authenticator')]",
}

var submitPools = []string{
	"//button[@type='submit']",
	"//input[@type='submit']",
	"//button[contains(., 'Login')]",
	"//button[contains(., 'Sign in')]",
	"//button[contains(., 'Submit')]",
}

// selectorProbe pairs the CSS selector reported to the caller with the
// XPath used to probe for it.
type selectorProbe struct {
	css   string
	xpath string
}

var successPool = []selectorProbe{
	{".dashboard", classXPath("dashboard")},
	{".profile", classXPath("profile")},
	{"[data-testid='home']", "//*[@data-testid='home']"},
	{"nav[role='navigation']", "//nav[@role='navigation']"},
	{".sidebar", classXPath("sidebar")},
}

var failurePool = []selectorProbe{
	{".error", classXPath("error")},
	{".alert-error", classXPath("alert-error")},
	{"[role='alert']", "//*[@role='alert']"},
	{".error-message", classXPath("error-message")},
	{".form-error", classXPath("form-error")},
}

var captchaPool = []string{
	classXPath("g-recaptcha"),
	classXPath("h-captcha"),
	"//*[@data-sitekey]",
	classXPath("recaptcha"),
}

func findUsernameField(doc *html.Node) string {
	for _, xp := range usernamePools {
		el := htmlquery.FindOne(doc, xp)
		if el == nil {
			continue
		}
		if sel := inputSelector(el); sel != "" {
			return sel
		}
	}
	return ""
}

func findPasswordField(doc *html.Node) string {
	el := htmlquery.FindOne(doc, "//input[@type='password']")
	if el == nil {
		return ""
	}
	return inputSelector(el)
}

func findSubmitButton(doc *html.Node) string {
	for _, xp := range submitPools {
		el := htmlquery.FindOne(doc, xp)
		if el == nil {
			continue
		}
		if id := htmlquery.SelectAttr(el, "id"); id != "" {
			return "#" + id
		}
		if name := htmlquery.SelectAttr(el, "name"); name != "" {
			return fmt.Sprintf("button[name='%s']", name)
		}
		// Buttons with neither id nor name get the generic literal;
		// anonymous submit inputs are skipped in favor of later pools.
		if strings.EqualFold(el.Data, "button") {
			return "button[type='submit']"
		}
	}
	return ""
}

func findTOTPField(doc *html.Node) string {
	for _, xp := range totpPools {
		el := htmlquery.FindOne(doc, xp)
		if el == nil {
			continue
		}
		if sel := inputSelector(el); sel != "" {
			return sel
		}
	}
	return ""
}

// inputSelector derives the tightest CSS selector for an input: id
// first, then name. Inputs with neither are not worth targeting.
func inputSelector(el *html.Node) string {
	if id := htmlquery.SelectAttr(el, "id"); id != "" {
		return "#" + id
	}
	if name := htmlquery.SelectAttr(el, "name"); name != "" {
		return fmt.Sprintf("input[name='%s']", name)
	}
	return ""
}

func matchPool(doc *html.Node, pool []selectorProbe) []string {
	var hits []string
	for _, p := range pool {
		if htmlquery.FindOne(doc, p.xpath) != nil {
			hits = append(hits, p.css)
		}
	}
	return hits
}

func hasCaptchaElement(doc *html.Node) bool {
	for _, xp := range captchaPool {
		if htmlquery.FindOne(doc, xp) != nil {
			return true
		}
	}
	return false
}

// classXPath matches a CSS class the way browsers do: as a whole
// whitespace-separated token, not a substring.
func classXPath(class string) string {
	return fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), ' %s ')]", class)
}

// captchaProviders scans the raw markup for vendor fingerprints, in a
// fixed order so the first entry is the primary suspect.
func captchaProviders(pageHTML string) []string {
	var providers []string
	if strings.Contains(pageHTML, "recaptcha") || strings.Contains(pageHTML, "g-recaptcha") {
		providers = append(providers, "reCAPTCHA")
	}
	if strings.Contains(pageHTML, "h-captcha") || strings.Contains(pageHTML, "hcaptcha") {
		providers = append(providers, "hCaptcha")
	}
	if strings.Contains(pageHTML, "arkose") {
		providers = append(providers, "Arkose")
	}
	if strings.Contains(pageHTML, "geetest") {
		providers = append(providers, "GeeTest")
	}
	if strings.Contains(pageHTML, "cloudflare") && strings.Contains(pageHTML, "challenge") {
		providers = append(providers, "Cloudflare")
	}
	return providers
}

var spaMarkers = []string{
	"data-react-root",
	"__vue__",
	"ng-app",
	"ng-version",
	"_nuxt",
	"__next",
}

func detectSPA(pageHTML string) bool {
	for _, marker := range spaMarkers {
		if strings.Contains(pageHTML, marker) {
			return true
		}
	}
	return false
}

func detectFramework(pageHTML string) string {
	switch {
	case strings.Contains(pageHTML, "data-react-root") || strings.Contains(pageHTML, "__react"):
		return "React"
	case strings.Contains(pageHTML, "__vue__"):
		return "Vue"
	case strings.Contains(pageHTML, "ng-app") || strings.Contains(pageHTML, "ng-version"):
		return "Angular"
	case strings.Contains(pageHTML, "_nuxt"):
		return "Nuxt"
	case strings.Contains(pageHTML, "__next"):
		return "Next.js"
	}
	return ""
}

var mfaKeywords = []string{
	"2fa",
	"two-factor",
	"authenticator",
	"totp",
	"mfa",
	"verify",
	"verification code",
}

func hasMFAKeywords(lowerHTML string) bool {
	for _, kw := range mfaKeywords {
		if strings.Contains(lowerHTML, kw) {
			return true
		}
	}
	return false
}

func clampWait(ms int) int {
	if ms < minWaitMs {
		return minWaitMs
	}
	if ms > maxWaitMs {
		return maxWaitMs
	}
	return ms
}

func clampTimeout(ms int) int {
	if ms < minTimeoutMs {
		return minTimeoutMs
	}
	if ms > maxTimeoutMs {
		return maxTimeoutMs
	}
	return ms
}
