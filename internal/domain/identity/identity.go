// Package identity resolves the buyer identity a checkout session is keyed by.
//
// Lookup order: X-Customer-ID header, customer_id cookie, then the
// customer_id field of the JSON user cookie. The fixed demo identity is only
// returned when the caller explicitly allows it.
package identity

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"
)

const (
	// Header carries the customer id set by the storefront.
	Header = "X-Customer-ID"
	// DemoCustomerID is the identity used for anonymous demo checkouts.
	DemoCustomerID = "1"

	customerCookie = "customer_id"
	userCookie     = "user"
)

// Resolve returns the customer id for r and whether one was found. When no
// source carries an id and allowDemo is set, DemoCustomerID is returned.
func Resolve(r *http.Request, allowDemo bool) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(Header)); id != "" {
		return id, true
	}
	if c, err := r.Cookie(customerCookie); err == nil {
		if id := strings.TrimSpace(c.Value); id != "" {
			return id, true
		}
	}
	if c, err := r.Cookie(userCookie); err == nil {
		if id, ok := fromUserCookie(c.Value); ok {
			return id, true
		}
	}
	if allowDemo {
		return DemoCustomerID, true
	}
	return "", false
}

// fromUserCookie extracts customer_id from a (possibly URL-encoded) JSON
// object. Both string and numeric ids are accepted.
func fromUserCookie(raw string) (string, bool) {
	if v, err := url.QueryUnescape(raw); err == nil {
		raw = v
	}

	var id string
	d := jx.DecodeStr(raw)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != customerCookie {
			return d.Skip()
		}
		switch d.Next() {
		case jx.String:
			s, err := d.Str()
			id = s
			return err
		case jx.Number:
			n, err := d.Num()
			id = n.String()
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}
