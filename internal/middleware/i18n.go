package middleware

import (
	"context"
	"net/http"
	"strings"

	"mediaflow/internal/i18n"
)

type localeContextKey struct{}

// LocaleKey holds the negotiated short locale code ("en", "id").
var LocaleKey = localeContextKey{}

// CountryLookup resolves an ISO country code for a client IP.
type CountryLookup func(ip string) (string, error)

// countryHeaders are set by the CDN or load balancer in front of the API.
var countryHeaders = []string{"CF-IPCountry", "X-Country-Code", "X-Appengine-Country"}

// I18N negotiates the error-message locale. Language headers win; the
// caller's country is only consulted when there are none, and the GeoIP
// lookup only when no proxy supplied the country.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	if defaultLocale == "" {
		defaultLocale = "en"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := negotiateLocale(r, defaultLocale, lookup)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), LocaleKey, locale)))
		})
	}
}

func negotiateLocale(r *http.Request, fallback string, lookup CountryLookup) string {
	explicit, accept := r.Header.Get("X-Locale"), r.Header.Get("Accept-Language")
	if explicit != "" || accept != "" {
		return i18n.Code(i18n.Negotiate(explicit, accept, ""))
	}
	if country := requestCountry(r, lookup); country != "" {
		return i18n.Code(i18n.Negotiate("", "", country))
	}
	return fallback
}

func requestCountry(r *http.Request, lookup CountryLookup) string {
	for _, h := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); len(v) == 2 {
			return strings.ToUpper(v)
		}
	}
	if lookup == nil {
		return ""
	}
	country, err := lookup(clientIP(r))
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}

// LocaleFromContext returns the negotiated locale, "en" when unset.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}
