package api

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/downpay/internal/domain/product"
)

// EncodeProduct writes p as the product document. Image paths go through
// product.ImagePath, prefixed with imageBase.
func EncodeProduct(e *jx.Encoder, p product.Product, imageBase string) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("price")
	encodeDecimal(e, p.Price)
	e.FieldStart("imageUrl")
	e.Str(imageURL(p.ImageURL, imageBase))
	e.FieldStart("seller")
	e.ObjStart()
	e.FieldStart("name")
	e.Str(p.Seller.StoreName)
	e.FieldStart("contact")
	e.Str(p.Seller.Contact)
	e.FieldStart("location")
	e.Str(p.Seller.Location)
	e.ObjEnd()
	if p.Demo {
		e.FieldStart("demo")
		e.Bool(true)
	}
	e.ObjEnd()
}

func imageURL(stored, base string) string {
	path := product.ImagePath(stored)
	if !strings.HasPrefix(path, "/") {
		return path
	}
	return base + path
}

// DecodeProduct reads a product document.
func DecodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "name":
			p.Name, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "imageUrl":
			p.ImageURL, err = d.Str()
		case "demo":
			p.Demo, err = d.Bool()
		case "seller":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "name":
					p.Seller.StoreName, err = d.Str()
				case "contact":
					p.Seller.Contact, err = d.Str()
				case "location":
					p.Seller.Location, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return product.Product{}, errors.Wrap(err, "decode product")
	}
	return p, nil
}
