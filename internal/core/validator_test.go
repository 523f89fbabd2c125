package core

import (
	"errors"
	"testing"

	"linkedai/internal/types"
)

type scheduleRequest struct {
	Content      string `json:"content" validate:"required,max=3000"`
	AccountURN   string `json:"account_urn" validate:"required"`
	ScheduledFor string `json:"scheduled_for" validate:"required"`
}

func TestValidator_Valid(t *testing.T) {
	v := NewValidator()
	req := scheduleRequest{
		Content:      "hello",
		AccountURN:   "urn:li:person:abc",
		ScheduledFor: "2026-04-01T09:00:00Z",
	}
	if err := v.ValidateStruct(req); err != nil {
		t.Fatalf("ValidateStruct() error = %v", err)
	}
}

func TestValidator_MissingFieldsReported(t *testing.T) {
	v := NewValidator()
	err := v.ValidateStruct(scheduleRequest{Content: "hello"})
	if !types.HasCode(err, types.ErrCodeValidationMissingField) {
		t.Fatalf("ValidateStruct() error = %v, want validation error", err)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatal("expected AppError")
	}
	if len(appErr.Details) != 2 {
		t.Errorf("details = %v, want the two missing fields", appErr.Details)
	}
}
