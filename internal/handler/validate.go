package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages holds the user-facing text for a failed rule, keyed by
// "<json field>.<tag>". A "<json field>" key covers every tag of that field.
var fieldMessages = map[string]string{
	"email":                    "Invalid email address.",
	"password":                 "Password must be at least 8 characters long.",
	"currentPassword.required": "Current password is required.",
	"newPassword":              "New password must be at least 8 characters.",
	"userId":                   "User ID is required.",
	"status":                   "Status must be one of watching, planning, completed, dropped.",
	"episode":                  "Episode must be zero or greater.",
}

func messageFor(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	if msg, ok := fieldMessages[fe.Field()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s.", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("%s must be at most %s.", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid.", fe.Field())
}

// validationErrors converts validator output into one entry per field.
func validationErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "", Error: err.Error()}}
	}
	seen := make(map[string]bool, len(verrs))
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		if seen[fe.Field()] {
			continue
		}
		seen[fe.Field()] = true
		out = append(out, FieldError{Field: fe.Field(), Error: messageFor(fe)})
	}
	return out
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// It writes the 400 response itself and reports false when the request
// should stop.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, KindValidation, "Invalid JSON body.")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeFieldErrors(w, http.StatusBadRequest, KindValidation, validationErrors(err)...)
		return false
	}
	return true
}
