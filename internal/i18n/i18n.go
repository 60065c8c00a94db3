// Package i18n negotiates the response language and renders localized API
// error messages.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the languages messages are translated into. The first
// entry is the fallback.
var Supported = []language.Tag{language.English, language.Indonesian}

var matcher = language.NewMatcher(Supported)

type entry struct {
	en string
	id string
}

// messages is keyed by API error code. Arguments follow fmt verbs.
var messages = map[string]entry{
	"invalid_request":     {en: "The request could not be parsed.", id: "Permintaan tidak dapat diproses."},
	"validation_failed":   {en: "Invalid value for %s: %s.", id: "Nilai %s tidak valid: %s."},
	"unauthorized":        {en: "Authentication is required.", id: "Autentikasi diperlukan."},
	"forbidden":           {en: "You do not have access to this resource.", id: "Anda tidak memiliki akses ke sumber ini."},
	"not_found":           {en: "The requested resource was not found.", id: "Sumber yang diminta tidak ditemukan."},
	"quota_daily":         {en: "Daily quota of %d jobs reached. Try again tomorrow or upgrade to Pro.", id: "Kuota harian %d pekerjaan telah habis. Coba lagi besok atau tingkatkan ke Pro."},
	"quota_concurrency":   {en: "At most %d jobs may run at once. Wait for a job to finish.", id: "Maksimal %d pekerjaan dapat berjalan bersamaan. Tunggu hingga pekerjaan selesai."},
	"job_not_ready":       {en: "The job has not completed yet.", id: "Pekerjaan belum selesai."},
	"result_expired":      {en: "The result has expired and was removed.", id: "Hasil telah kedaluwarsa dan dihapus."},
	"illegal_transition":  {en: "The job can no longer be changed.", id: "Pekerjaan tidak dapat diubah lagi."},
	"payload_too_large":   {en: "The file exceeds the %s limit.", id: "Berkas melebihi batas %s."},
	"unsupported_media":   {en: "Unsupported file type.", id: "Jenis berkas tidak didukung."},
	"storage_unavailable": {en: "Storage is temporarily unavailable.", id: "Penyimpanan sedang tidak tersedia."},
	"rate_limited":        {en: "Too many requests. Slow down.", id: "Terlalu banyak permintaan. Harap perlambat."},
	"internal_error":      {en: "Something went wrong.", id: "Terjadi kesalahan."},
}

var cat = buildCatalog()

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, e := range messages {
		_ = b.SetString(language.English, key, e.en)
		_ = b.SetString(language.Indonesian, key, e.id)
	}
	return b
}

// Negotiate picks the best supported language. An explicit locale wins over
// the Accept-Language header; the country is the last hint.
func Negotiate(explicit, acceptLanguage, country string) language.Tag {
	var prefs []language.Tag
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if tag, err := language.Parse(explicit); err == nil {
			prefs = append(prefs, tag)
		}
	}
	if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
		prefs = append(prefs, tags...)
	}
	if len(prefs) == 0 && strings.EqualFold(country, "ID") {
		return language.Indonesian
	}
	if len(prefs) == 0 {
		return Supported[0]
	}
	_, idx, confidence := matcher.Match(prefs...)
	if confidence == language.No {
		return Supported[0]
	}
	return Supported[idx]
}

// Code returns the short code ("en", "id") for a negotiated tag.
func Code(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// Parse maps a short code back to a supported tag, defaulting to English.
func Parse(code string) language.Tag {
	tag, err := language.Parse(code)
	if err != nil {
		return Supported[0]
	}
	_, idx, _ := matcher.Match(tag)
	return Supported[idx]
}

// Has reports whether key has a translation.
func Has(key string) bool {
	_, ok := messages[key]
	return ok
}

// Message renders key in the language identified by locale.
func Message(locale, key string, args ...any) string {
	p := message.NewPrinter(Parse(locale), message.Catalog(cat))
	return p.Sprintf(key, args...)
}
