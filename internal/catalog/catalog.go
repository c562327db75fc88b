// Package catalog reads product catalogs used to seed a store.
//
// A catalog is a JSON array of products:
//
//	[{"id": "p1", "name": "Waffle", "price": "6.50", "stock": 20, "active": true}]
//
// Price may be a JSON string or number. Active defaults to true. Files whose
// name ends in ".gz" are gzip-compressed.
package catalog

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
)

// Load reads the catalog at path.
func Load(path string) ([]product.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return Decode(r)
}

// Decode reads a catalog from r.
func Decode(r io.Reader) ([]product.Product, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}

	var (
		products []product.Product
		seen     = map[string]struct{}{}
	)
	err = jx.DecodeBytes(bytes.TrimSpace(data)).Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product %d", len(products))
		}
		if _, dup := seen[p.ID]; dup {
			return errors.Errorf("duplicate product id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return products, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	p := product.Product{Active: true}
	var hasPrice bool
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "id":
			v, err := d.Str()
			p.ID = v
			return err
		case "name":
			v, err := d.Str()
			p.Name = v
			return err
		case "price":
			v, err := decodeDecimal(d)
			p.Price = v
			hasPrice = true
			return err
		case "stock":
			v, err := d.Int()
			p.Stock = v
			return err
		case "active":
			v, err := d.Bool()
			p.Active = v
			return err
		default:
			return d.Skip()
		}
	})
	switch {
	case err != nil:
		return p, err
	case p.ID == "":
		return p, errors.New("id is required")
	case !hasPrice || p.Price.IsNegative():
		return p, errors.Errorf("product %s: price must be a non-negative number", p.ID)
	case p.Stock < 0:
		return p, errors.Errorf("product %s: stock must not be negative", p.ID)
	}
	if err := product.ValidatePrice(p.Price); err != nil {
		return p, errors.Wrapf(err, "product %s", p.ID)
	}
	return p, nil
}

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
		return decimal.Decimal{}, errors.Errorf("unexpected %s", d.Next())
	}
	return decimal.NewFromString(raw)
}
