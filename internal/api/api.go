// Package api holds the JSON documents of the catalog and ledger API.
// The HTTP handlers encode them and internal/client decodes them.
//
// Every response is wrapped in an envelope:
//
//	{"status":"success","data":{...}}
//	{"status":"error","message":"..."}
package api

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// EncodeSuccess writes a success envelope with data as its payload.
func EncodeSuccess(e *jx.Encoder, data func(e *jx.Encoder)) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(StatusSuccess)
	e.FieldStart("data")
	data(e)
	e.ObjEnd()
}

// EncodeError writes an error envelope.
func EncodeError(e *jx.Encoder, message string) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(StatusError)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}

// Envelope is a decoded response envelope.
type Envelope struct {
	Status  string
	Message string
}

// OK reports whether the envelope carries a success status.
func (e Envelope) OK() bool { return e.Status == StatusSuccess }

// DecodeEnvelope reads an envelope, handing the data payload to decodeData.
// A nil decodeData skips the payload.
func DecodeEnvelope(body []byte, decodeData func(d *jx.Decoder) error) (Envelope, error) {
	var env Envelope
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			env.Status, err = d.Str()
		case "message":
			env.Message, err = d.Str()
		case "data":
			if decodeData == nil || d.Next() == jx.Null {
				return d.Skip()
			}
			err = decodeData(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for amount", d.Next())
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse amount %q", raw)
	}
	return v, nil
}

// decodeID accepts string and integer identifiers.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return d.Str()
	}
}
