package enums

import "fmt"

// WindowKind distinguishes pickup slots from shipping dispatch days.
type WindowKind string

const (
	WindowKindPickup   WindowKind = "pickup"
	WindowKindShipping WindowKind = "shipping"
)

var validWindowKinds = []WindowKind{
	WindowKindPickup,
	WindowKindShipping,
}

// String implements fmt.Stringer.
func (w WindowKind) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WindowKind.
func (w WindowKind) IsValid() bool {
	for _, candidate := range validWindowKinds {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWindowKind converts raw input into a WindowKind.
func ParseWindowKind(value string) (WindowKind, error) {
	for _, candidate := range validWindowKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid window kind %q", value)
}
