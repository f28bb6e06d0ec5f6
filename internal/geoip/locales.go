package geoip

// countryLocales maps ISO 3166-1 country codes to the BCP 47 locale a
// browser most commonly presents there. The table covers the countries
// behind the vast majority of proxy traffic; anything else resolves to
// no locale.
var countryLocales = map[string]string{
	"US": "en-US", "GB": "en-GB", "AU": "en-AU", "CA": "en-CA", "NZ": "en-NZ",
	"IE": "en-IE", "ZA": "en-ZA", "SG": "en-SG",
	"DE": "de-DE", "AT": "de-AT", "CH": "de-CH",
	"FR": "fr-FR", "BE": "fr-BE",
	"ES": "es-ES", "MX": "es-MX", "AR": "es-AR", "CO": "es-CO", "CL": "es-CL",
	"BR": "pt-BR", "PT": "pt-PT",
	"IT": "it-IT", "NL": "nl-NL",
	"JP": "ja-JP", "KR": "ko-KR", "CN": "zh-CN", "TW": "zh-TW", "HK": "zh-HK",
	"RU": "ru-RU", "UA": "uk-UA", "PL": "pl-PL", "CZ": "cs-CZ", "RO": "ro-RO",
	"IL": "he-IL", "TR": "tr-TR", "SA": "ar-SA", "AE": "ar-AE", "EG": "ar-EG",
	"IN": "hi-IN", "ID": "id-ID", "PH": "en-PH",
	"TH": "th-TH", "VN": "vi-VN", "MY": "ms-MY",
	"SE": "sv-SE", "NO": "nb-NO", "DK": "da-DK", "FI": "fi-FI",
	"GR": "el-GR", "HU": "hu-HU", "BG": "bg-BG",
}

// ForCountry returns the locale for an ISO country code, or "" for
// countries outside the table.
func ForCountry(code string) string {
	return countryLocales[code]
}
