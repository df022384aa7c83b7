package api

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/domain/order"
)

// EncodeOrderRequest writes the body of POST /api/orders.
func EncodeOrderRequest(e *jx.Encoder, rec order.Record) {
	e.ObjStart()
	encodeRecordFields(e, rec)
	e.ObjEnd()
}

func encodeRecordFields(e *jx.Encoder, rec order.Record) {
	e.FieldStart("userId")
	e.Str(rec.UserID)
	e.FieldStart("productId")
	e.Str(rec.ProductID)
	e.FieldStart("productName")
	e.Str(rec.ProductName)
	e.FieldStart("price")
	encodeDecimal(e, rec.Price)
	e.FieldStart("downPayment")
	encodeDecimal(e, rec.DownPayment)
	e.FieldStart("remainingPayment")
	encodeDecimal(e, rec.RemainingPayment)
	e.FieldStart("authorizationId")
	e.Str(rec.AuthorizationID)
	e.FieldStart("payerName")
	e.Str(rec.PayerName)
}

// DecodeOrderRequest reads the body of POST /api/orders. Unknown fields are
// ignored.
func DecodeOrderRequest(body []byte) (order.Record, error) {
	rec, err := decodeRecord(jx.DecodeBytes(body))
	if err != nil {
		return order.Record{}, errors.Wrap(err, "decode order request")
	}
	return rec, nil
}

func decodeRecord(d *jx.Decoder) (order.Record, error) {
	var rec order.Record
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			rec.ID, err = d.Str()
		case "userId":
			rec.UserID, err = decodeID(d)
		case "productId":
			rec.ProductID, err = decodeID(d)
		case "productName":
			rec.ProductName, err = d.Str()
		case "price":
			rec.Price, err = decodeDecimal(d)
		case "downPayment":
			rec.DownPayment, err = decodeDecimal(d)
		case "remainingPayment":
			rec.RemainingPayment, err = decodeDecimal(d)
		case "authorizationId":
			rec.AuthorizationID, err = d.Str()
		case "payerName":
			rec.PayerName, err = d.Str()
		case "createdAt":
			var s string
			if s, err = d.Str(); err == nil {
				rec.CreatedAt, err = time.Parse(time.RFC3339, s)
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return rec, err
}

// DecodeOrders reads an array of stored orders.
func DecodeOrders(d *jx.Decoder) ([]order.Record, error) {
	var out []order.Record
	err := d.Arr(func(d *jx.Decoder) error {
		rec, err := decodeRecord(d)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}
	return out, nil
}

// EncodeOrder writes a stored order.
func EncodeOrder(e *jx.Encoder, rec order.Record) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(rec.ID)
	encodeRecordFields(e, rec)
	if !rec.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		e.Str(rec.CreatedAt.UTC().Format(time.RFC3339))
	}
	e.ObjEnd()
}

// EncodePersisted writes the data of a POST /api/orders response.
func EncodePersisted(e *jx.Encoder, orderID string, replayed bool) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(orderID)
	e.FieldStart("replayed")
	e.Bool(replayed)
	e.ObjEnd()
}

// DecodePersisted reads the data of a POST /api/orders response.
func DecodePersisted(d *jx.Decoder) (orderID string, replayed bool, err error) {
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			orderID, err = d.Str()
		case "replayed":
			replayed, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	return orderID, replayed, err
}
