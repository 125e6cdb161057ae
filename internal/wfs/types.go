package wfs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidID = errors.New("feature id is neither a string nor a number")

// FeatureCollection is the GeoJSON body returned by GetFeature.
type FeatureCollection struct {
	Type           string       `json:"type"`
	Features       []RawFeature `json:"features"`
	TotalFeatures  any          `json:"totalFeatures,omitempty"`
	NumberMatched  any          `json:"numberMatched,omitempty"`
	NumberReturned int          `json:"numberReturned,omitempty"`
}

// RawFeature is one feature as the service sent it. The id, geometry and
// properties are left undecoded or loosely typed; a bad value in one
// feature must not fail the page it came in.
type RawFeature struct {
	ID         json.RawMessage        `json:"id"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureID returns the id as text. GeoJSON allows strings and numbers:
// strings are returned verbatim and numbers as written, so 7 is "7".
// A missing or null id is "" with no error.
func (f RawFeature) FeatureID() (string, error) {
	raw := bytes.TrimSpace(f.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		return id.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidID, raw)
	}
}

// Query selects the features of one layer whose year lies in
// [YearStart, YearEnd].
type Query struct {
	Workspace string
	Layer     string
	YearStart int
	YearEnd   int
	PageSize  int
}
