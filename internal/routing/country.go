package routing

import "strings"

// prefixToISO maps E.164 dialing prefixes to ISO-3166 alpha-2 codes.
// Longest-prefix match; NANP overlays beyond +1 are not distinguished.
var prefixToISO = map[string]string{
	"1":   "US",
	"7":   "RU",
	"20":  "EG",
	"27":  "ZA",
	"30":  "GR",
	"31":  "NL",
	"32":  "BE",
	"33":  "FR",
	"34":  "ES",
	"36":  "HU",
	"39":  "IT",
	"40":  "RO",
	"41":  "CH",
	"43":  "AT",
	"44":  "GB",
	"45":  "DK",
	"46":  "SE",
	"47":  "NO",
	"48":  "PL",
	"49":  "DE",
	"52":  "MX",
	"54":  "AR",
	"55":  "BR",
	"56":  "CL",
	"57":  "CO",
	"60":  "MY",
	"61":  "AU",
	"62":  "ID",
	"63":  "PH",
	"64":  "NZ",
	"65":  "SG",
	"66":  "TH",
	"81":  "JP",
	"82":  "KR",
	"84":  "VN",
	"86":  "CN",
	"90":  "TR",
	"91":  "IN",
	"234": "NG",
	"254": "KE",
	"351": "PT",
	"353": "IE",
	"358": "FI",
	"380": "UA",
	"420": "CZ",
	"852": "HK",
	"853": "MO",
	"886": "TW",
	"966": "SA",
	"971": "AE",
	"972": "IL",
}

// CountryOf resolves an E.164 number to its ISO country code by
// longest-prefix match. Unknown prefixes default to US.
func CountryOf(e164 string) string {
	digits := strings.TrimPrefix(e164, "+")
	for l := 3; l >= 1; l-- {
		if len(digits) < l {
			continue
		}
		if iso, ok := prefixToISO[digits[:l]]; ok {
			return iso
		}
	}
	return "US"
}
