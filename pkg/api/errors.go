package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/langhookd/langhookd/pkg/errs"
)

// mapError maps a pkg/errs error kind to an HTTP error response.
func mapError(err error) *echo.HTTPError {
	if errors.Is(err, errs.NotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, errs.AlreadyUsed) {
		return echo.NewHTTPError(http.StatusConflict, "subscription already used")
	}

	if kind, ok := errs.Of(err); ok {
		switch kind {
		case errs.KindInvalidJSON, errs.KindUnknownSchemaPattern:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errs.KindBodyTooLarge:
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case errs.KindRateLimited:
			return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
		case errs.KindInvalidSignature:
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
		case errs.KindBrokerUnavailable, errs.KindStoreUnavailable, errs.KindCacheUnavailable:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "upstream dependency unavailable")
		case errs.KindBudgetExhausted:
			return echo.NewHTTPError(http.StatusServiceUnavailable, "LLM daily budget exhausted")
		}
	}

	slog.Error("unexpected API error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
