package paypal

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/widget"
)

func encodeCreateOrder(currency, amount string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("intent")
	e.Str("CAPTURE")
	e.FieldStart("purchase_units")
	e.ArrStart()
	e.ObjStart()
	e.FieldStart("amount")
	e.ObjStart()
	e.FieldStart("currency_code")
	e.Str(currency)
	e.FieldStart("value")
	e.Str(amount)
	e.ObjEnd()
	e.ObjEnd()
	e.ArrEnd()
	e.ObjEnd()
	return e.Bytes()
}

func decodeOrder(data []byte) (id, status string, err error) {
	err = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			id, err = d.Str()
		case "status":
			status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return id, status, err
}

type capture struct {
	ID        string
	Status    string
	GivenName string
	Surname   string
}

func (c capture) payerName() string {
	return strings.TrimSpace(c.GivenName + " " + c.Surname)
}

func decodeCapture(data []byte) (capture, error) {
	var c capture
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "status":
			c.Status, err = d.Str()
		case "payer":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				if key != "name" {
					return d.Skip()
				}
				return d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "given_name":
						c.GivenName, err = d.Str()
					case "surname":
						c.Surname, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return capture{}, err
	}
	if c.ID == "" {
		return capture{}, errors.New("capture without id")
	}
	return c, nil
}

func decodeToken(data []byte) (string, time.Duration, error) {
	var (
		token   string
		seconds int64
	)
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "access_token":
			token, err = d.Str()
		case "expires_in":
			seconds, err = d.Int64()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return "", 0, err
	}
	if token == "" {
		return "", 0, errors.New("empty access token")
	}
	return token, time.Duration(seconds) * time.Second, nil
}

// apiError is the PayPal error body: {name, message, details:[{issue}]}.
type apiError struct {
	Name    string
	Message string
	Issues  []string
}

func decodeAPIError(data []byte) apiError {
	var a apiError
	_ = jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name", "error":
			a.Name, err = d.Str()
		case "message", "error_description":
			a.Message, err = d.Str()
		case "details":
			err = d.Arr(func(d *jx.Decoder) error {
				return d.Obj(func(d *jx.Decoder, key string) error {
					if key != "issue" {
						return d.Skip()
					}
					issue, err := d.Str()
					a.Issues = append(a.Issues, issue)
					return err
				})
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return a
}

// isFundingIssue reports whether a PayPal issue means the payer's funding
// source failed.
func isFundingIssue(issue string) bool {
	switch issue {
	case "INSTRUMENT_DECLINED", "TRANSACTION_REFUSED", "PAYER_CANNOT_PAY",
		"MAX_NUMBER_OF_PAYMENT_ATTEMPTS_EXCEEDED":
		return true
	default:
		return false
	}
}

// captureKind classifies a capture that did not complete. Only terminal
// refusals are funding failures; anything else may still settle.
func captureKind(status string) widget.ErrorKind {
	switch status {
	case "DECLINED", "FAILED", "VOIDED":
		return widget.KindFunding
	default:
		return widget.KindPending
	}
}

func classify(status int, body []byte) *widget.ProviderError {
	a := decodeAPIError(body)
	msg := a.Name
	if a.Message != "" {
		msg += ": " + a.Message
	}
	if msg == "" {
		msg = "status " + strconv.Itoa(status)
	}

	kind := widget.KindProvider
	for _, issue := range a.Issues {
		if isFundingIssue(issue) {
			kind = widget.KindFunding
			msg = issue
			break
		}
		if issue == "ORDER_ALREADY_CAPTURED" {
			// Funds were taken by an earlier capture.
			kind = widget.KindPending
			msg = issue
			break
		}
	}
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		kind = widget.KindNetwork
	}
	return &widget.ProviderError{Kind: kind, Message: msg}
}
