package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// dateLayouts are tried in order before falling back to cast. GeoServer
// writes xsd:date values as "2019-07-30Z".
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02Z",
	"2006-01-02Z07:00",
	time.RFC3339,
	"2006/01/02",
	"02/01/2006",
}

// toInt reads text as base 10, so a zero-padded "010" is 10. Integral
// floats such as 12.0 or "12.0" are accepted; 12.5 is not.
func toInt(v interface{}) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		return parseInt(x.String())
	case string:
		return parseInt(x)
	case float64:
		return floatInt(x)
	case float32:
		return floatInt(float64(x))
	}
	return cast.ToInt64E(v)
}

func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return floatInt(f)
}

func floatInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat(v interface{}) (float64, error) {
	if n, ok := v.(json.Number); ok {
		return n.Float64()
	}
	return cast.ToFloat64E(v)
}

func toText(v interface{}) (string, error) {
	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// toDate keeps the offset the value was written with, so the calendar
// date stored is the one in the source text.
func toDate(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToTimeE(v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return cast.ToTimeE(s)
}

// toYearDate accepts either a full date or a bare year, which is
// stored as January 1st of that year.
func toYearDate(v interface{}) (time.Time, error) {
	if y, err := toInt(v); err == nil && y > 0 && y < 10000 {
		return time.Date(int(y), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	}
	return toDate(v)
}
