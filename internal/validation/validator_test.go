package validation

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suteetoe/lavadero/internal/apperr"
)

type signupRequest struct {
	Business string  `json:"business" validate:"required,max=20"`
	Email    string  `json:"email" validate:"required,email"`
	Role     string  `json:"role" validate:"omitempty,oneof=admin operador"`
	Amount   float64 `json:"amount" validate:"gte=0"`
}

func TestValidateStructOK(t *testing.T) {
	require.NoError(t, ValidateStruct(&signupRequest{Business: "Lavadero", Email: "a@example.com"}))
}

func TestValidateStructCollectsFields(t *testing.T) {
	err := ValidateStruct(&signupRequest{Email: "nope", Role: "owner", Amount: -1})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	var verr *RequestValidationError
	require.ErrorAs(t, err, &verr)
	fields := verr.Fields()
	assert.Equal(t, "business is required", fields["business"])
	assert.Equal(t, "email must be a valid email", fields["email"])
	assert.Equal(t, "role must be one of [admin operador]", fields["role"])
	assert.Equal(t, "amount must be greater than or equal to 0", fields["amount"])

	assert.Equal(t, http.StatusBadRequest, apperr.Status(err))
}
