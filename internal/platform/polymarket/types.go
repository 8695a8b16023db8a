package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Optional scalar wrappers
// --------------------------------------------------------------------------

var jsonNull = []byte("null")

// OptFloat is a number that may be absent from a Gamma payload. It decodes
// from a JSON number or a numeric string; anything else (including a string
// that does not parse) leaves it invalid rather than failing the page.
type OptFloat struct {
	Value float64
	Valid bool
}

// Or returns the value, or def when the field was absent.
func (o OptFloat) Or(def float64) float64 {
	if !o.Valid {
		return def
	}
	return o.Value
}

func (o *OptFloat) UnmarshalJSON(data []byte) error {
	*o = OptFloat{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*o = OptFloat{Value: f, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		*o = OptFloat{Value: f, Valid: true}
	}
	return nil
}

func (o OptFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

// OptBool unmarshals from a JSON bool or a string ("true"/"false"/"1") so
// Gamma responses work whichever form a flag is sent in.
type OptBool struct {
	Value bool
	Valid bool
}

// Or returns the value, or def when the field was absent.
func (o OptBool) Or(def bool) bool {
	if !o.Valid {
		return def
	}
	return o.Value
}

func (o *OptBool) UnmarshalJSON(data []byte) error {
	*o = OptBool{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*o = OptBool{Value: b, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	*o = OptBool{Value: strings.EqualFold(s, "true") || s == "1", Valid: true}
	return nil
}

func (o OptBool) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

// OptString is a text field that may be absent. It decodes from a JSON
// string, or from a number or bool rendered as text (an id sent as 2 reads
// as "2"). Objects and arrays leave it invalid.
type OptString struct {
	Value string
	Valid bool
}

// Or returns the value, or def when the field was absent.
func (o OptString) Or(def string) string {
	if !o.Valid {
		return def
	}
	return o.Value
}

func (o *OptString) UnmarshalJSON(data []byte) error {
	*o = OptString{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*o = OptString{Value: s, Valid: true}
	case '{', '[':
	default:
		*o = OptString{Value: string(data), Valid: true}
	}
	return nil
}

func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return jsonNull, nil
	}
	return json.Marshal(o.Value)
}

// EncodedList holds a list that Gamma ships as a JSON-encoded string, e.g.
// "[\"Yes\",\"No\"]". A bare JSON array is accepted as well. The list itself
// is decoded by the caller.
type EncodedList struct {
	Raw   string
	Valid bool
}

func (l *EncodedList) UnmarshalJSON(data []byte) error {
	*l = EncodedList{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = EncodedList{Raw: s, Valid: true}
		return nil
	}
	*l = EncodedList{Raw: string(data), Valid: true}
	return nil
}

func (l EncodedList) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return jsonNull, nil
	}
	return json.Marshal(l.Raw)
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Gamma /events listing.
// Every field is optional; defaults are resolved by the pipeline
// transformer, never here.
type APIEvent struct {
	ID         OptString `json:"id"`
	Slug       OptString `json:"slug"`
	Title      OptString `json:"title"`
	StartDate  OptString `json:"startDate"`
	EndDate    OptString `json:"endDate"`
	Volume24hr OptFloat  `json:"volume24hr"`
	Volume1wk  OptFloat  `json:"volume1wk"`
	Volume1mo  OptFloat  `json:"volume1mo"`
	Volume1yr  OptFloat  `json:"volume1yr"`
	Volume     OptFloat  `json:"volume"`
	Image      OptString `json:"image"`
	New        OptBool   `json:"new"`
	Featured   OptBool   `json:"featured"`
	NegRisk    OptBool   `json:"negRisk"`
	Liquidity  OptFloat  `json:"liquidity"`
	Closed     OptBool   `json:"closed"`
	Tags       []APITag  `json:"tags"`
}

// APITag is a category label attached to an event.
type APITag struct {
	ID    OptString `json:"id,omitempty"`
	Label OptString `json:"label"`
	Slug  OptString `json:"slug"`
}

// APIMarket represents a market as returned by the Gamma /markets listing.
type APIMarket struct {
	ID            OptString   `json:"id"`
	Slug          OptString   `json:"slug"`
	Question      OptString   `json:"question"`
	ConditionID   OptString   `json:"conditionId,omitempty"`
	StartDate     OptString   `json:"startDate"`
	EndDate       OptString   `json:"endDate"`
	Liquidity     OptFloat    `json:"liquidity"`
	Image         OptString   `json:"image"`
	Outcomes      EncodedList `json:"outcomes"`      // e.g. "[\"Yes\",\"No\"]"
	OutcomePrices EncodedList `json:"outcomePrices"` // e.g. "[\"0.55\",\"0.45\"]"
	Volume24hr    OptFloat    `json:"volume24hr"`
	Volume1wk     OptFloat    `json:"volume1wk"`
	Volume1mo     OptFloat    `json:"volume1mo"`
	Volume1yr     OptFloat    `json:"volume1yr"`
	Volume        OptFloat    `json:"volume"` // sent as a numeric string
	New           OptBool     `json:"new"`
	Featured      OptBool     `json:"featured"`
	NegRisk       OptBool     `json:"negRisk"`
	Closed        OptBool     `json:"closed"`

	OneDayPriceChange   OptFloat `json:"oneDayPriceChange"`
	OneHourPriceChange  OptFloat `json:"oneHourPriceChange"`
	OneWeekPriceChange  OptFloat `json:"oneWeekPriceChange"`
	OneMonthPriceChange OptFloat `json:"oneMonthPriceChange"`
	LastTradePrice      OptFloat `json:"lastTradePrice"`
}
