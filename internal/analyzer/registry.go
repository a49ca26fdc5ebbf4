package analyzer

import "fmt"

// NewFocuser creates a focuser based on the specified variant
func NewFocuser(variant string) (Focuser, error) {
	switch variant {
	case "edge", "":
		return NewEdgeFocus(), nil
	case "center":
		return CenterFocus{}, nil
	default:
		return nil, fmt.Errorf("unknown focus variant: %s", variant)
	}
}
