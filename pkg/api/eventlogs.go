// Event log handlers: offset+size pagination over canonical-event and
// per-subscription logs.
package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/langhookd/langhookd/pkg/store"
)

// listEventLogsHandler handles GET /event-logs?page&size&resource_types=.
func (s *Server) listEventLogsHandler(c *echo.Context) error {
	page, size := parsePageSize(c)

	var resourceTypes []string
	if v := c.QueryParam("resource_types"); v != "" {
		resourceTypes = strings.Split(v, ",")
	}

	logs, err := s.store.ListEventLogs(c.Request().Context(), store.EventLogFilter{
		ResourceTypes: resourceTypes,
		Page:          page,
		Size:          size,
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, pageResponse{Page: page, Size: size, Items: toEventLogResponses(logs)})
}

// listSubscriptionEventLogsHandler handles
// GET /subscriptions/:id/events?page&size&gate=allowed|blocked|all.
func (s *Server) listSubscriptionEventLogsHandler(c *echo.Context) error {
	id := c.Param("id")
	page, size := parsePageSize(c)

	gate := c.QueryParam("gate")
	switch gate {
	case "", "allowed", "blocked", "all":
		if gate == "all" {
			gate = ""
		}
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "gate must be allowed, blocked, or all")
	}

	logs, err := s.store.ListSubscriptionEventLogs(c.Request().Context(), store.SubscriptionEventLogFilter{
		SubscriptionID: id,
		Gate:           gate,
		Page:           page,
		Size:           size,
	})
	if err != nil {
		return mapError(err)
	}

	return c.JSON(http.StatusOK, pageResponse{Page: page, Size: size, Items: toSubscriptionEventLogResponses(logs)})
}

// maxPageSize mirrors store.maxPageSize; the API layer enforces the same
// ceiling so an oversized ?size= is ignored (the default page size is
// used) before ever reaching the store's own clamp.
const maxPageSize = 200

func parsePageSize(c *echo.Context) (page, size int) {
	page = 0
	size = maxPageSize
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p >= 0 {
			page = p
		}
	}
	if v := c.QueryParam("size"); v != "" {
		if sz, err := strconv.Atoi(v); err == nil && sz > 0 && sz <= maxPageSize {
			size = sz
		}
	}
	return page, size
}
