package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nasermirzaei89/talkback/discuss"
)

const (
	tagRequired   = "required"
	tagNotBlank   = "notblank"
	tagMax        = "max"
	tagJSONObject = "jsonobject"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	rules := map[string]validator.Func{
		tagNotBlank:   notBlank,
		tagJSONObject: jsonObject,
	}

	for tag, fn := range rules {
		err := v.RegisterValidation(tag, fn)
		if err != nil {
			panic(fmt.Sprintf("failed to register %q validation: %v", tag, err))
		}
	}

	return v
}

func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func jsonObject(fl validator.FieldLevel) bool {
	var fields map[string]any

	err := json.Unmarshal(fl.Field().Bytes(), &fields)

	return err == nil && fields != nil
}

// Field order decides which failure is reported first.
type submitCommentRequest struct {
	Message    string          `json:"message" validate:"required,notblank,max=5000"`
	Target     string          `json:"target" validate:"required,notblank,max=1024"`
	Author     string          `json:"author" validate:"max=100"`
	Additional json.RawMessage `json:"additional" validate:"omitempty,jsonobject"`
}

func validateSubmission(req submitCommentRequest) error {
	err := validate.Struct(req)
	if err != nil {
		return toValidationError(err)
	}

	return nil
}

// toValidationError maps the first validator failure onto a tagged reason.
func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("failed to validate request: %w", err)
	}

	fieldErr := fieldErrs[0]
	field := fieldErr.Field()

	reason := discuss.ReasonInvalidField

	switch fieldErr.Tag() {
	case tagRequired, tagNotBlank:
		switch field {
		case "message":
			reason = discuss.ReasonMissingMessage
		case "target":
			reason = discuss.ReasonMissingTarget
		}
	case tagMax:
		reason = discuss.ReasonFieldTooLong
	case tagJSONObject:
		reason = discuss.ReasonInvalidAdditional
	}

	return &discuss.ValidationError{Reason: reason, Field: field}
}
