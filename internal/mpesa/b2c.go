package mpesa

import (
	"context"

	"github.com/shopspring/decimal"
)

// B2CResponse is the synchronous payout dispatch acknowledgement. The
// conversation ids correlate the asynchronous result callback.
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// B2CPayment dispatches a payout to the given phone. remarks carries
// the withdrawal's internal reference for human-readable correlation.
func (c *Client) B2CPayment(ctx context.Context, phone string, amount decimal.Decimal, remarks string) (*B2CResponse, error) {
	payload := map[string]interface{}{
		"InitiatorName":      c.cfg.InitiatorName,
		"SecurityCredential": c.cfg.SecurityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             amount.StringFixed(0),
		"PartyA":             c.cfg.B2CShortCode,
		"PartyB":             phone,
		"Remarks":            remarks,
		"QueueTimeOutURL":    c.cfg.CallbackBaseURL + "/api/b2c/b2c-timeout",
		"ResultURL":          c.cfg.CallbackBaseURL + "/api/b2c/b2c-callback",
		"Occasion":           remarks,
	}

	var out B2CResponse
	if err := c.postJSON(ctx, "/mpesa/b2c/v1/paymentrequest", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
