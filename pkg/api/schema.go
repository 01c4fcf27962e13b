// Schema registry handlers: the discovered-vocabulary listing and its
// cascade-delete operations.
package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getSchemaHandler handles GET /schema.
func (s *Server) getSchemaHandler(c *echo.Context) error {
	snapshot, err := s.store.LoadSchemaRegistry(c.Request().Context())
	if err != nil {
		return mapError(err)
	}

	seenAction := map[string]bool{}
	var actions []string
	for _, t := range snapshot.Triples {
		if !seenAction[t.Action] {
			seenAction[t.Action] = true
			actions = append(actions, t.Action)
		}
	}

	resp := schemaResponse{
		Publishers:    snapshot.Publishers,
		ResourceTypes: snapshot.ResourceTypes,
		Actions:       actions,
	}
	if resp.Publishers == nil {
		resp.Publishers = []string{}
	}
	if resp.ResourceTypes == nil {
		resp.ResourceTypes = map[string][]string{}
	}
	if resp.Actions == nil {
		resp.Actions = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}

// deleteSchemaHandler handles DELETE /schema/publishers/:publisher,
// /schema/publishers/:publisher/resource-types/:type, and
// /schema/publishers/:publisher/resource-types/:type/actions/:action. It
// cascades over the registry only — stored events are untouched.
func (s *Server) deleteSchemaHandler(c *echo.Context) error {
	publisher := c.Param("publisher")
	if publisher == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "publisher is required")
	}
	resourceType := c.Param("type")
	action := c.Param("action")

	if err := s.store.DeleteSchema(c.Request().Context(), publisher, resourceType, action); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
