package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// iso3 maps ISO 639-1 base codes to the ISO 639-2 terminology codes that
// container metadata expects. x/text carries no 639-2 table, so the set we
// translate between is spelled out here.
var iso3 = map[string]string{
	"en": "eng",
	"es": "spa",
	"fr": "fra",
	"de": "deu",
	"it": "ita",
	"pt": "por",
	"ja": "jpn",
	"ko": "kor",
	"zh": "zho",
	"ru": "rus",
	"ar": "ara",
	"hi": "hin",
	"nl": "nld",
	"pl": "pol",
	"sv": "swe",
	"da": "dan",
	"no": "nor",
	"fi": "fin",
	"th": "tha",
	"vi": "vie",
	"tr": "tur",
}

func parse(code string) (language.Tag, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return language.Und, false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

// ToISO2 normalizes any recognized language code ("zh-CN", "chi", "zho") to
// its ISO 639-1 base code. Returns empty string for unrecognized input.
func ToISO2(code string) string {
	tag, ok := parse(code)
	if !ok {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	iso1 := base.String()
	if len(iso1) != 2 {
		return ""
	}
	return iso1
}

// ToISO3 converts a language code to ISO 639-2 for container metadata.
// Returns "und" for unrecognized input; 3-letter input passes through.
func ToISO3(code string) string {
	if mapped, ok := iso3[ToISO2(code)]; ok {
		return mapped
	}
	cleaned := strings.ToLower(strings.TrimSpace(code))
	if len(cleaned) == 3 {
		return cleaned
	}
	return "und"
}

// DisplayName returns the English name for a language code, or the
// uppercased input when the code is unrecognized.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	tag, ok := parse(code)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	name := display.English.Languages().Name(tag)
	if name == "" {
		return strings.ToUpper(strings.TrimSpace(code))
	}
	return name
}

// Supported reports whether a code names a language this system can
// translate into.
func Supported(code string) bool {
	_, ok := iso3[ToISO2(code)]
	return ok
}
