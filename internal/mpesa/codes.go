package mpesa

// ResultCode is a Daraja transaction result code. The gateway delivers
// these in STK and B2C result callbacks.
type ResultCode int

const (
	// ResultSuccess is the documented success code for both STK push
	// and B2C results. Some sandbox deployments report a different
	// non-zero code for successful B2C payouts; that code is
	// configuration (Config.B2CSuccessCode), not a literal here.
	ResultSuccess ResultCode = 0

	// ResultInsufficientFunds means the paying customer had no funds.
	ResultInsufficientFunds ResultCode = 1

	// ResultCancelledByUser means the customer dismissed the STK prompt.
	ResultCancelledByUser ResultCode = 1032

	// ResultTimeout means the prompt expired or the handset was
	// unreachable. Intents hit by this code are marked EXPIRED rather
	// than FAILED.
	ResultTimeout ResultCode = 1037
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultInsufficientFunds:
		return "insufficient funds"
	case ResultCancelledByUser:
		return "cancelled by user"
	case ResultTimeout:
		return "timeout"
	default:
		return "failed"
	}
}
