package attribution

import (
	"net/url"
	"slices"
	"strings"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/domain"
)

// Source and medium literals.
const (
	SourceDirect   = "(direct)"
	MediumNone     = "(none)"
	MediumUnset    = "none"
	MediumCPC      = "cpc"
	MediumOrganic  = "organic"
	MediumSocial   = "social"
	MediumReferral = "referral"
)

// Referrer is an external referring page.
type Referrer struct {
	URL    string
	Domain string
}

type domainRule struct {
	needles []string
	source  string
	medium  string
}

// referrerRules are checked in order against the lower-cased referrer hostname.
var referrerRules = []domainRule{
	{needles: []string{"google."}, source: "google", medium: MediumOrganic},
	{needles: []string{"bing."}, source: "bing", medium: MediumOrganic},
	{needles: []string{"yahoo."}, source: "yahoo", medium: MediumOrganic},
	{needles: []string{"duckduckgo."}, source: "duckduckgo", medium: MediumOrganic},
	{needles: []string{"baidu."}, source: "baidu", medium: MediumOrganic},
	{needles: []string{"facebook.", "fb."}, source: "facebook", medium: MediumSocial},
	{needles: []string{"twitter.", "t.co"}, source: "twitter", medium: MediumSocial},
	{needles: []string{"linkedin."}, source: "linkedin", medium: MediumSocial},
	{needles: []string{"instagram."}, source: "instagram", medium: MediumSocial},
	{needles: []string{"youtube."}, source: "youtube", medium: MediumSocial},
}

var clickIDSources = []struct {
	param  string
	source string
}{
	{param: domain.ParamGCLID, source: "google"},
	{param: domain.ParamFBCLID, source: "facebook"},
	{param: domain.ParamMSCLKID, source: "bing"},
}

// ExtractParams returns the recognized, non-empty parameters of query.
func ExtractParams(query url.Values) map[string]string {
	params := make(map[string]string)
	for _, name := range domain.TrackedParams {
		if value := query.Get(name); value != "" {
			params[name] = value
		}
	}
	return params
}

// ExternalReferrer parses rawReferrer and reports it when its hostname differs
// from currentHost. Empty or unparseable referrers are ignored.
func ExternalReferrer(rawReferrer, currentHost string) (Referrer, bool) {
	if rawReferrer == "" {
		return Referrer{}, false
	}

	u, err := url.Parse(rawReferrer)
	if err != nil || u.Host == "" {
		return Referrer{}, false
	}

	hostname := strings.ToLower(u.Hostname())
	if strings.EqualFold(hostname, currentHost) {
		return Referrer{}, false
	}

	return Referrer{URL: rawReferrer, Domain: hostname}, true
}

// Classify derives a source and medium. The first matching rule wins:
// explicit utm_source, then a click id, then an external referrer, then direct.
func Classify(params map[string]string, ref *Referrer) (source, medium string) {
	if utmSource := params[domain.ParamUTMSource]; utmSource != "" {
		if utmMedium := params[domain.ParamUTMMedium]; utmMedium != "" {
			return utmSource, utmMedium
		}
		return utmSource, MediumUnset
	}

	for _, click := range clickIDSources {
		if params[click.param] != "" {
			return click.source, MediumCPC
		}
	}

	if ref != nil {
		return classifyReferrer(ref.Domain)
	}

	return SourceDirect, MediumNone
}

func classifyReferrer(referrerDomain string) (source, medium string) {
	lowered := strings.ToLower(referrerDomain)
	for _, rule := range referrerRules {
		for _, needle := range rule.needles {
			if strings.Contains(lowered, needle) {
				return rule.source, rule.medium
			}
		}
	}
	return lowered, MediumReferral
}

// NewTouch classifies one navigation into a Touch without a timestamp.
// Referrer fields are kept only when no utm_source is present.
func NewTouch(query url.Values, rawReferrer, currentHost string) domain.Touch {
	params := ExtractParams(query)

	var ref *Referrer
	if r, ok := ExternalReferrer(rawReferrer, currentHost); ok {
		ref = &r
	}

	touch := domain.Touch{Params: params}
	touch.Source, touch.Medium = Classify(params, ref)
	if ref != nil && params[domain.ParamUTMSource] == "" {
		touch.Referrer = ref.URL
		touch.ReferrerDomain = ref.Domain
	}

	return touch
}

// CleanURL returns rawURL with every recognized attribution parameter removed.
// An unparseable URL is returned unchanged.
func CleanURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	kept := make([]string, 0, strings.Count(u.RawQuery, "&")+1)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if unescaped, unescapeErr := url.QueryUnescape(key); unescapeErr == nil {
			key = unescaped
		}
		if !slices.Contains(domain.TrackedParams, key) {
			kept = append(kept, pair)
		}
	}
	u.RawQuery = strings.Join(kept, "&")

	return u.String()
}
