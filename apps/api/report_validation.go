package main

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, err := ParseCategory(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		_, err := ParseStatus(fl.Field().String())
		return err == nil
	})
	return v
}

type draftPayload struct {
	Address     *string `json:"address" validate:"omitempty,max=300"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	Category    *string `json:"category" validate:"omitempty,category"`
	Image       *string `json:"image" validate:"omitempty,url"`
}

type centerPayload struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

type statusPayload struct {
	Status string `json:"status" validate:"required,status"`
}

type loginPayload struct {
	Role     string `json:"role" validate:"required,oneof=admin user"`
	Password string `json:"password" validate:"max=200"`
}

type filterTogglePayload struct {
	Category string `json:"category" validate:"required,category"`
}

type viewPayload struct {
	View string `json:"view" validate:"required,max=32"`
}

type typingPayload struct {
	Typing *bool `json:"typing" validate:"required"`
}

// validatePayload runs struct validation and folds failures into a single
// apiError listing "field:tag" pairs.
func validatePayload(payload any) error {
	err := payloadValidator.Struct(payload)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: err.Error()}
	}
	fields := processValidationErrors(validationErrors)
	keys := make([]string, 0, len(fields))
	for field := range fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s:%s", key, fields[key]))
	}
	return &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid fields: " + strings.Join(parts, ", ")}
}

func processValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

// patch converts a validated payload into a DraftPatch.
func (p draftPayload) patch() DraftPatch {
	patch := DraftPatch{
		Address:     p.Address,
		Description: p.Description,
		Image:       p.Image,
	}
	if p.Category != nil {
		if category, err := ParseCategory(*p.Category); err == nil {
			patch.Category = &category
		}
	}
	return patch
}
