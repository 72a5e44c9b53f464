package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

type signupPayload struct {
	DisplayName string `json:"display_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"min=8"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := signupPayload{
		DisplayName: "alice",
		Email:       "alice@example.com",
		Password:    "correct horse",
	}

	if err := ValidateStruct(payload); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateStructFailures(t *testing.T) {
	payload := signupPayload{
		DisplayName: "",
		Email:       "invalid",
		Password:    "short",
	}

	err := ValidateStruct(payload)
	if err == nil {
		t.Fatal("expected validation error")
	}

	vErrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(vErrs) != 3 {
		t.Fatalf("expected 3 validation errors, got %d", len(vErrs))
	}

	foundEmail := false
	for _, v := range vErrs {
		if v.Field == "email" {
			foundEmail = true
		}
	}
	if !foundEmail {
		t.Fatal("expected email field to be present in validation errors")
	}
}

func TestPhoneAndSlugRules(t *testing.T) {
	type friendPayload struct {
		Phone string `json:"phone" validate:"omitempty,phone"`
		Slug  string `json:"slug" validate:"omitempty,slug"`
	}

	if err := ValidateStruct(friendPayload{Phone: "+1 (555) 123-4567", Slug: "grandma-rose"}); err != nil {
		t.Fatalf("expected valid phone and slug, got %v", err)
	}
	if err := ValidateStruct(friendPayload{Phone: "call me"}); err == nil {
		t.Fatal("expected invalid phone to fail")
	}
	if err := ValidateStruct(friendPayload{Slug: "Grandma Rose"}); err == nil {
		t.Fatal("expected invalid slug to fail")
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("smallworld", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "smallworld"
	})
	if err != nil {
		t.Fatalf("register validation: %v", err)
	}

	type custom struct {
		Value string `validate:"smallworld"`
	}

	if err := ValidateStruct(custom{Value: "smallworld"}); err != nil {
		t.Fatalf("expected validation to pass, got %v", err)
	}
	if err := ValidateStruct(custom{Value: "other"}); err == nil {
		t.Fatal("expected validation to fail for non-matching value")
	}
}
