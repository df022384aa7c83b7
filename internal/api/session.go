package api

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/checkout"
	"github.com/xenking/downpay/internal/widget"
)

// EncodeSession writes the checkout session document shown to the buyer.
func EncodeSession(e *jx.Encoder, s checkout.Session, imageBase string) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("userId")
	e.Str(s.UserID)
	e.FieldStart("productId")
	e.Str(s.ProductID)
	e.FieldStart("phase")
	e.Str(string(s.Phase))
	e.FieldStart("message")
	e.Str(s.Message())
	if s.Product != nil {
		e.FieldStart("product")
		EncodeProduct(e, *s.Product, imageBase)
	}
	if !s.Split.IsZero() {
		e.FieldStart("price")
		encodeDecimal(e, s.Split.Price)
		e.FieldStart("downPayment")
		encodeDecimal(e, s.Split.First)
		e.FieldStart("remainingPayment")
		encodeDecimal(e, s.Split.Second)
	}
	e.FieldStart("charged")
	e.Bool(s.Charged())
	if s.OrderID != "" {
		e.FieldStart("orderId")
		e.Str(s.OrderID)
	}
	if s.UnconfirmedIntent != "" {
		e.FieldStart("unconfirmedIntentId")
		e.Str(s.UnconfirmedIntent)
	}
	if s.Redirect != "" {
		e.FieldStart("redirect")
		e.Str(s.Redirect)
		e.FieldStart("redirectAt")
		e.Str(s.RedirectAt.UTC().Format(time.RFC3339Nano))
	}
	if s.Failure != nil {
		e.FieldStart("failure")
		e.Str(string(s.Failure.Reason))
	}
	e.FieldStart("retryable")
	e.Bool(s.Retryable())
	e.FieldStart("persistenceRetryable")
	e.Bool(s.PersistenceRetryable())
	e.ObjEnd()
}

// EncodeIntent writes the provider intent created for a session.
func EncodeIntent(e *jx.Encoder, in widget.Intent) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(in.ID)
	e.FieldStart("amount")
	e.Str(in.Amount)
	e.ObjEnd()
}

// DecodeSessionRequest reads {productId} from a new-session body.
func DecodeSessionRequest(body []byte) (string, error) {
	var productID string
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "productId" {
			return d.Skip()
		}
		var err error
		productID, err = decodeID(d)
		return err
	})
	return productID, err
}

// DecodeProviderError reads a {kind, message} error report from the widget.
// Unknown kinds are treated as provider failures.
func DecodeProviderError(body []byte) (*widget.ProviderError, error) {
	var (
		kind string
		msg  string
	)
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "kind":
			kind, err = d.Str()
		case "message":
			msg, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &widget.ProviderError{Kind: widget.ParseErrorKind(kind), Message: msg}, nil
}
