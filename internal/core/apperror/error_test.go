package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactoriesCarryStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		code   string
		status int
	}{
		{NewValidation("bad"), CodeValidation, http.StatusBadRequest},
		{NewNotFound("count", "abc"), CodeNotFound, http.StatusNotFound},
		{NewConflict("busy"), CodeConflict, http.StatusConflict},
		{NewStatusConflict("count", "abc", "contando"), CodeStatusConflict, http.StatusConflict},
		{NewInvalidTransition("count", "cerrado", "contando"), CodeInvalidTransition, http.StatusConflict},
		{NewItemCap(12000, 10000), CodeItemCap, http.StatusUnprocessableEntity},
		{NewBranchUnavailable(7, errors.New("refused")), CodeBranchUnavailable, http.StatusServiceUnavailable},
		{NewInternal(errors.New("boom")), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.code, tc.err.Code)
		assert.Equal(t, tc.status, tc.err.HTTPStatus)
	}
}

func TestUnwrapAndAs(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewBranchUnavailable(3, cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("loading stock: %w", err)
	appErr, ok := AsAppError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, CodeBranchUnavailable, appErr.Code)
	assert.True(t, IsBranchUnavailable(wrapped))
}

func TestWithDetail(t *testing.T) {
	err := NewValidation("bad input").
		WithDetail("field", "warehouse").
		WithDetail("value", -1)

	assert.Equal(t, "warehouse", err.Details["field"])
	assert.Equal(t, -1, err.Details["value"])
}

func TestGetHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, GetHTTPStatus(NewNotFound("count", "x")))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
}

func TestDuplicateOpenCountDetails(t *testing.T) {
	conflicts := []map[string]any{
		{"item_code": "A100", "folio": "CNT-202405-0001", "status": "contando"},
	}
	err := NewDuplicateOpenCount(conflicts)

	assert.Equal(t, CodeDuplicateOpenCount, err.Code)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Equal(t, conflicts, err.Details["conflicts"])
}
