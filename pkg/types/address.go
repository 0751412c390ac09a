package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingAddress is stored as an opaque JSON column on orders. It is only
// required for shipping windows, so every field except Line1/City/PostalCode
// stays optional.
type ShippingAddress struct {
	Name       string  `json:"name,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country,omitempty"`
	Phone      *string `json:"phone,omitempty"`
}

// Validate checks the fields a shipping label cannot do without.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("shipping address: missing line1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("shipping address: missing city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		return fmt.Errorf("shipping address: missing postal_code")
	}
	return nil
}

// Value marshals the address into its JSON column representation.
func (a ShippingAddress) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("shipping address: marshal: %w", err)
	}
	return string(raw), nil
}

// Scan decodes the JSON column representation.
func (a *ShippingAddress) Scan(value interface{}) error {
	if value == nil {
		*a = ShippingAddress{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("shipping address: unsupported scan type %T", value)
	}

	if len(raw) == 0 {
		*a = ShippingAddress{}
		return nil
	}
	return json.Unmarshal(raw, a)
}
