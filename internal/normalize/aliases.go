package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// AliasVersion identifies the alias table below. Bump it whenever an
// entry changes so logs of old runs can be told apart.
const AliasVersion = 1

// AliasTable maps folded raw property names to canonical attributes.
// Entries cover shapefile-truncated names (10 chars), Portuguese names
// used by older PRODES layers, and DETER-style names.
var AliasTable = map[string]string{
	"uf":         "state",
	"estado":     "state",
	"pathrow":    "path_row",
	"orbita_pt":  "path_row",
	"defcloud":   "def_cloud",
	"julday":     "julian_day",
	"dia_juli":   "julian_day",
	"image_dat":  "image_date",
	"imagedate":  "image_date",
	"view_date":  "image_date",
	"data_img":   "image_date",
	"ano":        "year",
	"area":       "area_km",
	"areakm":     "area_km",
	"area_km2":   "area_km",
	"areamunkm":  "area_km",
	"scene":      "scene_id",
	"sceneid":    "scene_id",
	"fonte":      "source",
	"satelite":   "satellite",
	"publish_ye": "publish_year",
	"publish_da": "publish_year",
	"publishdat": "publish_year",
}

// DroppedFields are classification attributes that carry no value for
// the canonical schema and are discarded before renaming.
var DroppedFields = []string{"main_class", "class_name"}

// substringCandidates is the canonical order used by the substring
// fallback. id is excluded: it always comes from the feature id.
var substringCandidates = Columns[1:]

// foldKey lower-cases a property name, strips diacritics and turns
// spaces and dashes into underscores.
func foldKey(k string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, strings.TrimSpace(k))
	if err != nil {
		s = k
	}
	s = cases.Fold().String(s)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// resolveKey maps a non-canonical property name to a canonical one.
func resolveKey(aliases map[string]string, raw string) (string, bool) {
	k := foldKey(raw)
	if c, ok := aliases[k]; ok {
		return c, true
	}
	if isCanonical(k) {
		return k, true
	}
	for _, c := range substringCandidates {
		if strings.Contains(k, c) {
			return c, true
		}
	}
	return "", false
}

func isCanonical(k string) bool {
	for _, c := range Columns {
		if c == k {
			return true
		}
	}
	return false
}
