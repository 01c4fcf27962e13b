package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/langhookd/langhookd/pkg/errs"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
	}{
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", errs.NotFound),
			expectCode: http.StatusNotFound,
		},
		{
			name:       "already used maps to 409",
			err:        errs.AlreadyUsed,
			expectCode: http.StatusConflict,
		},
		{
			name:       "invalid json maps to 400",
			err:        errs.New(errs.KindInvalidJSON, "bad json", nil),
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "unknown schema pattern maps to 400",
			err:        errs.New(errs.KindUnknownSchemaPattern, "unknown token", nil),
			expectCode: http.StatusBadRequest,
		},
		{
			name:       "body too large maps to 413",
			err:        errs.New(errs.KindBodyTooLarge, "too big", nil),
			expectCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "rate limited maps to 429",
			err:        errs.New(errs.KindRateLimited, "slow down", nil),
			expectCode: http.StatusTooManyRequests,
		},
		{
			name:       "invalid signature maps to 401",
			err:        errs.New(errs.KindInvalidSignature, "bad signature", nil),
			expectCode: http.StatusUnauthorized,
		},
		{
			name:       "broker unavailable maps to 503",
			err:        errs.New(errs.KindBrokerUnavailable, "down", nil),
			expectCode: http.StatusServiceUnavailable,
		},
		{
			name:       "store unavailable maps to 503",
			err:        errs.New(errs.KindStoreUnavailable, "down", nil),
			expectCode: http.StatusServiceUnavailable,
		},
		{
			name:       "budget exhausted maps to 503",
			err:        errs.New(errs.KindBudgetExhausted, "over cap", nil),
			expectCode: http.StatusServiceUnavailable,
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
		})
	}
}
