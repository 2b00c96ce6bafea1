package mpesa

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a callback metadata value. The gateway sends amounts as
// numbers, receipts as strings, and occasionally numbers as strings,
// so the raw JSON is kept and coerced on access.
type Value struct {
	raw json.RawMessage
}

func (v *Value) UnmarshalJSON(b []byte) error {
	v.raw = append(v.raw[:0], b...)
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.raw == nil {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v Value) String() string {
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(v.raw), `"`)
}

func (v Value) Decimal() (decimal.Decimal, bool) {
	// decode via json.Number, not float64, so amounts stay exact
	var n json.Number
	if err := json.Unmarshal(v.raw, &n); err == nil {
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Zero, false
}

// Item is one name/value pair of callback metadata.
type Item struct {
	Name  string `json:"Name"`
	Value Value  `json:"Value"`
}

// Items supports lookup by name.
type Items []Item

func (items Items) Lookup(name string) (Value, bool) {
	for _, it := range items {
		if it.Name == name {
			return it.Value, true
		}
	}
	return Value{}, false
}

func (items Items) Decimal(name string) (decimal.Decimal, bool) {
	v, ok := items.Lookup(name)
	if !ok {
		return decimal.Zero, false
	}
	return v.Decimal()
}

func (items Items) String(name string) (string, bool) {
	v, ok := items.Lookup(name)
	if !ok {
		return "", false
	}
	return v.String(), true
}

// STKCallbackEnvelope is the body posted to the collection callback
// endpoint.
type STKCallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is the collection result. CallbackMetadata is only
// present on success.
type STKCallback struct {
	MerchantRequestID string     `json:"MerchantRequestID"`
	CheckoutRequestID string     `json:"CheckoutRequestID"`
	ResultCode        ResultCode `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item Items `json:"Item"`
	} `json:"CallbackMetadata"`
}

func (cb *STKCallback) metadata() Items {
	if cb.CallbackMetadata == nil {
		return nil
	}
	return cb.CallbackMetadata.Item
}

// Amount extracts the transaction amount from the metadata items.
func (cb *STKCallback) Amount() (decimal.Decimal, bool) {
	return cb.metadata().Decimal("Amount")
}

// Receipt extracts the gateway receipt number.
func (cb *STKCallback) Receipt() (string, bool) {
	s, ok := cb.metadata().String("MpesaReceiptNumber")
	return s, ok && s != ""
}

// Phone extracts the payer phone number.
func (cb *STKCallback) Phone() (string, bool) {
	return cb.metadata().String("PhoneNumber")
}

// B2CResultEnvelope is the body posted to the payout result endpoint.
type B2CResultEnvelope struct {
	Result B2CResult `json:"Result"`
}

// B2CResult is the payout result. Transaction details arrive either as
// keyed ResultParameters or as top-level fields depending on the
// endpoint variant; accessors tolerate both shapes.
type B2CResult struct {
	ResultType               int              `json:"ResultType"`
	ResultCode               ResultCode       `json:"ResultCode"`
	ResultDesc               string           `json:"ResultDesc"`
	OriginatorConversationID string           `json:"OriginatorConversationID"`
	ConversationID           string           `json:"ConversationID"`
	TransactionID            string           `json:"TransactionID"`
	TransactionAmount        *decimal.Decimal `json:"TransactionAmount,omitempty"`
	TransactionReceipt       string           `json:"TransactionReceipt,omitempty"`
	ResultParameters         *struct {
		ResultParameter Items `json:"ResultParameter"`
	} `json:"ResultParameters"`
}

func (r *B2CResult) parameters() Items {
	if r.ResultParameters == nil {
		return nil
	}
	return r.ResultParameters.ResultParameter
}

// Amount extracts the paid amount from either shape.
func (r *B2CResult) Amount() (decimal.Decimal, bool) {
	if d, ok := r.parameters().Decimal("TransactionAmount"); ok {
		return d, true
	}
	if r.TransactionAmount != nil {
		return *r.TransactionAmount, true
	}
	return decimal.Zero, false
}

// Receipt extracts the gateway receipt from either shape.
func (r *B2CResult) Receipt() string {
	if s, ok := r.parameters().String("TransactionReceipt"); ok && s != "" {
		return s
	}
	if r.TransactionReceipt != "" {
		return r.TransactionReceipt
	}
	return r.TransactionID
}

// Ack is the body every callback endpoint returns to the gateway,
// regardless of internal outcome.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// Accepted is the unconditional callback acknowledgement.
var Accepted = Ack{ResultCode: 0, ResultDesc: "Accepted"}
