package casewire

import (
	"fmt"
	"strings"

	"github.com/spooled/spooled-sdk-go/sdkerrors"
)

// MaxNestingDepth is the maximum allowed depth for a decoded structured
// value before Validate rejects it. Chosen generously above any realistic
// job payload shape while still bounding stack depth on malicious input.
const MaxNestingDepth = 32

// dangerousKeys blocks prototype-pollution-shaped keys from a decoded
// response before it is handed to caller code as a map they might later
// merge into their own objects.
var dangerousKeys = map[string]bool{
	"__proto__":   true,
	"constructor": true,
	"prototype":   true,
}

// Validate scans a decoded structured value for dangerous keys and
// excessive nesting, returning a *sdkerrors.ServiceError (Kind Validation)
// on the first violation found. transport.Client.Request applies it to each
// decoded response body before FromWire runs.
func Validate(v Value) error {
	return validateValue(v, 0)
}

func validateValue(v Value, depth int) error {
	switch val := v.(type) {
	case map[string]any:
		if depth >= MaxNestingDepth {
			return sdkerrors.Validation(fmt.Sprintf("payload nesting depth %d exceeds maximum %d", depth, MaxNestingDepth))
		}
		for key, child := range val {
			normalised := strings.ToLower(key)
			if dangerousKeys[normalised] {
				return sdkerrors.Validation(fmt.Sprintf("payload contains disallowed key %q", key)).WithDetail("key", key)
			}
			if err := validateValue(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if depth >= MaxNestingDepth {
			return sdkerrors.Validation(fmt.Sprintf("payload nesting depth %d exceeds maximum %d", depth, MaxNestingDepth))
		}
		for _, item := range val {
			if err := validateValue(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
