package discuss

import (
	"fmt"
	"strings"
)

// Reason is a closed set of validation failure tags. The HTTP boundary maps
// validator failures onto it.
type Reason string

const (
	ReasonInvalidJSON       Reason = "invalid_json"
	ReasonMissingMessage    Reason = "missing_message"
	ReasonMissingTarget     Reason = "missing_target"
	ReasonFieldTooLong      Reason = "field_too_long"
	ReasonInvalidAdditional Reason = "invalid_additional"
	ReasonUnknownAction     Reason = "unknown_action"
	ReasonUnknownFormat     Reason = "unknown_format"
	ReasonInvalidField      Reason = "invalid_field"
)

const (
	MaxAuthorLength  = 100
	MaxMessageLength = 5000
	MaxTargetLength  = 1024
)

type ValidationError struct {
	Reason Reason
	Field  string
}

func (err ValidationError) Error() string {
	if err.Field == "" {
		return fmt.Sprintf("validation failed: %s", err.Reason)
	}

	return fmt.Sprintf("validation failed on %s: %s", err.Field, err.Reason)
}

// NormalizeTarget gives a target a single leading slash and no trailing one.
func NormalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	target = strings.Trim(target, "/")

	return "/" + target
}
