package attribution_test

import (
	"net/url"
	"testing"

	"github.com/jonesrussell/north-cloud/engagement-tracker/internal/attribution"
)

func TestNewTouch_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		query      string
		referrer   string
		wantSource string
		wantMedium string
	}{
		{name: "utm source and medium", query: "utm_source=google&utm_medium=cpc", wantSource: "google", wantMedium: "cpc"},
		{name: "utm source only", query: "utm_source=newsletter", wantSource: "newsletter", wantMedium: "none"},
		{name: "gclid beats referrer", query: "gclid=abc", referrer: "https://www.bing.com/", wantSource: "google", wantMedium: "cpc"},
		{name: "fbclid", query: "fbclid=x", wantSource: "facebook", wantMedium: "cpc"},
		{name: "msclkid", query: "msclkid=x", wantSource: "bing", wantMedium: "cpc"},
		{name: "google organic", referrer: "https://www.google.com/search?q=x", wantSource: "google", wantMedium: "organic"},
		{name: "duckduckgo organic", referrer: "https://duckduckgo.com/?q=x", wantSource: "duckduckgo", wantMedium: "organic"},
		{name: "facebook social", referrer: "https://m.facebook.com/", wantSource: "facebook", wantMedium: "social"},
		{name: "t.co social", referrer: "https://t.co/abc", wantSource: "twitter", wantMedium: "social"},
		{name: "youtube social", referrer: "https://www.youtube.com/watch", wantSource: "youtube", wantMedium: "social"},
		{name: "other referral", referrer: "https://News.Example.org/post", wantSource: "news.example.org", wantMedium: "referral"},
		{name: "same host referrer is direct", referrer: "https://www.example.com/pricing", wantSource: "(direct)", wantMedium: "(none)"},
		{name: "unparseable referrer is direct", referrer: "::not a url", wantSource: "(direct)", wantMedium: "(none)"},
		{name: "nothing", wantSource: "(direct)", wantMedium: "(none)"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			query, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}

			touch := attribution.NewTouch(query, tc.referrer, "www.example.com")
			if touch.Source != tc.wantSource || touch.Medium != tc.wantMedium {
				t.Errorf("got (%s, %s), want (%s, %s)", touch.Source, touch.Medium, tc.wantSource, tc.wantMedium)
			}
		})
	}
}

func TestNewTouch_ReferrerOnlyWithoutUTMSource(t *testing.T) {
	t.Parallel()

	withUTM := attribution.NewTouch(url.Values{"utm_source": {"mail"}}, "https://news.example.org/", "www.example.com")
	if withUTM.Referrer != "" || withUTM.ReferrerDomain != "" {
		t.Errorf("referrer kept alongside utm_source: %+v", withUTM)
	}

	withClickID := attribution.NewTouch(url.Values{"gclid": {"abc"}}, "https://news.example.org/", "www.example.com")
	if withClickID.ReferrerDomain != "news.example.org" {
		t.Errorf("referrer_domain: got %q, want news.example.org", withClickID.ReferrerDomain)
	}
}

func TestExtractParams_IgnoresUnknownAndEmpty(t *testing.T) {
	t.Parallel()

	params := attribution.ExtractParams(url.Values{
		"utm_source": {"google"},
		"utm_medium": {""},
		"ref":        {"abc"},
	})

	if len(params) != 1 || params["utm_source"] != "google" {
		t.Errorf("ExtractParams() = %v, want only utm_source", params)
	}
}

func TestCleanURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips all recognized parameters",
			in:   "https://www.example.com/pricing?utm_source=google&utm_medium=cpc&gclid=1&fbclid=2&msclkid=3&utm_id=4&plan=pro",
			want: "https://www.example.com/pricing?plan=pro",
		},
		{
			name: "keeps remaining parameters in order",
			in:   "https://x.com/p?z=1&utm_source=a&b=2",
			want: "https://x.com/p?z=1&b=2",
		},
		{
			name: "only recognized parameters",
			in:   "https://x.com/p?utm_source=a&gclid=2",
			want: "https://x.com/p",
		},
		{
			name: "no query",
			in:   "https://www.example.com/",
			want: "https://www.example.com/",
		},
		{
			name: "unparseable is unchanged",
			in:   "http://[::1]:namedport",
			want: "http://[::1]:namedport",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := attribution.CleanURL(tc.in); got != tc.want {
				t.Errorf("CleanURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExternalReferrer_HostIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	if _, ok := attribution.ExternalReferrer("https://WWW.EXAMPLE.COM/blog", "www.example.com"); ok {
		t.Error("same-site referrer with an upper-case host reported as external")
	}

	ref, ok := attribution.ExternalReferrer("https://News.Site.COM/a", "www.example.com")
	if !ok {
		t.Fatal("external referrer not reported")
	}
	if ref.Domain != "news.site.com" {
		t.Errorf("Domain = %q, want news.site.com", ref.Domain)
	}
}
