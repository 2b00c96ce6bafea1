package mpesa

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// STKPushResponse is the synchronous dispatch acknowledgement. The
// CheckoutRequestID correlates the asynchronous callback.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKPush dispatches a collection request (customer pay-bill prompt)
// for the given tip. reference is the intent's account reference and
// comes back in the callback body.
func (c *Client) STKPush(ctx context.Context, phone string, amount decimal.Decimal, reference string) (*STKPushResponse, error) {
	ts := timestamp(time.Now())

	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount.StringFixed(0),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackBaseURL + "/api/payments/callback",
		"AccountReference":  reference,
		"TransactionDesc":   "Support / Tip",
	}

	var out STKPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
