package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/embeddings"
	"github.com/fyrsmithlabs/workspaced/internal/scope"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// orgHeader overrides the default organization per request.
const orgHeader = "X-Organization-ID"

type errorResponse struct {
	Error string `json:"error"`
}

type entryResponse struct {
	Key         string            `json:"key"`
	Value       string            `json:"value"`
	ContentType string            `json:"content_type"`
	Meta        map[string]string `json:"meta,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Embedded    bool              `json:"embedded"`
}

type setRequest struct {
	Value       string            `json:"value"`
	ContentType string            `json:"content_type"`
	TTL         string            `json:"ttl"`
	Meta        map[string]string `json:"meta"`
}

type transferRequest struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Move bool   `json:"move"`
}

type searchRequest struct {
	Text     string            `json:"text"`
	Scopes   []scopeSelector   `json:"scopes"`
	Limit    int               `json:"limit"`
	MinScore float32           `json:"min_score"`
	Caller   searchCallerParam `json:"caller"`
}

type scopeSelector struct {
	Type      string `json:"type"`
	Owner     string `json:"owner"`
	AllAgents bool   `json:"all_agents"`
	AllTeams  bool   `json:"all_teams"`
}

type searchCallerParam struct {
	UserID string `json:"user_id"`
}

func (s *Server) organization(c echo.Context) string {
	if org := c.Request().Header.Get(orgHeader); org != "" {
		return org
	}
	return s.config.DefaultOrganization
}

// pathFromRequest resolves the scope/owner/path route params into a Path.
// The owner segment may be a human-readable team or agent name.
func (s *Server) pathFromRequest(c echo.Context) (scope.Path, error) {
	scopeType, err := scope.ParseType(c.Param("scope"))
	if err != nil {
		return scope.Path{}, err
	}
	return s.resolver.Resolve(c.Request().Context(), scopeType, c.Param("owner"), c.Param("*"), s.organization(c))
}

// ownerFromRequest resolves the scope/owner route params, with no entry
// path required.
func (s *Server) ownerFromRequest(c echo.Context) (scope.Path, error) {
	scopeType, err := scope.ParseType(c.Param("scope"))
	if err != nil {
		return scope.Path{}, err
	}
	ownerID, err := s.resolver.ResolveOwnerID(c.Request().Context(), scopeType, c.Param("owner"), s.organization(c))
	if err != nil {
		return scope.Path{}, err
	}
	return scope.Path{ScopeType: scopeType, OwnerID: ownerID}, nil
}

func (s *Server) handleSet(c echo.Context) error {
	p, err := s.pathFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req setRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	opts := workspace.WriteOptions{ContentType: req.ContentType, Meta: req.Meta}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil || ttl < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid ttl"})
		}
		opts.TTL = ttl
	}

	entry, err := s.workspace.Set(c.Request().Context(), p, []byte(req.Value), opts)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleGet(c echo.Context) error {
	p, err := s.pathFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	entry, err := s.workspace.Get(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(entry))
}

func (s *Server) handleDelete(c echo.Context) error {
	p, err := s.pathFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	removed, err := s.workspace.Delete(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleList(c echo.Context) error {
	p, err := s.ownerFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	p.RelativePath = c.QueryParam("prefix")

	paths, err := s.workspace.List(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"paths": paths})
}

func (s *Server) handleClear(c echo.Context) error {
	p, err := s.ownerFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	p.RelativePath = c.QueryParam("prefix")

	var req struct {
		Confirm bool `json:"confirm"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	removed, err := s.workspace.Clear(c.Request().Context(), p, req.Confirm)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleExport(c echo.Context) error {
	p, err := s.ownerFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}
	snap, err := s.workspace.Export(c.Request().Context(), p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) handleImport(c echo.Context) error {
	p, err := s.ownerFromRequest(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req struct {
		Entries   workspace.Snapshot `json:"entries"`
		Overwrite bool               `json:"overwrite"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	written, err := s.workspace.Import(c.Request().Context(), p, req.Entries, req.Overwrite)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"written": written})
}

func (s *Server) handleTransfer(c echo.Context) error {
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	src, err := scope.ParseKey(req.Src)
	if err != nil {
		return s.fail(c, err)
	}
	dst, err := scope.ParseKey(req.Dst)
	if err != nil {
		return s.fail(c, err)
	}

	if req.Move {
		err = s.workspace.Move(c.Request().Context(), src, dst)
	} else {
		err = s.workspace.Copy(c.Request().Context(), src, dst)
	}
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"dst": dst.Key()})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	caller := search.Caller{
		UserID:         req.Caller.UserID,
		OrganizationID: s.organization(c),
	}

	query := search.Query{
		Text:     req.Text,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	}
	for _, sel := range req.Scopes {
		selector := search.Selector{AllAgents: sel.AllAgents, AllTeams: sel.AllTeams}
		if sel.Type != "" {
			scopeType, err := scope.ParseType(sel.Type)
			if err != nil {
				return s.fail(c, err)
			}
			ownerID, err := s.resolver.ResolveOwnerID(c.Request().Context(), scopeType, sel.Owner, caller.OrganizationID)
			if err != nil {
				return s.fail(c, err)
			}
			selector.ScopeType = scopeType
			selector.OwnerID = ownerID
		}
		query.Scopes = append(query.Scopes, selector)
	}

	result, err := s.search.SearchMulti(c.Request().Context(), caller, query)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// fail maps domain errors to HTTP status codes.
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, scope.ErrInvalidScope),
		errors.Is(err, scope.ErrUnresolvableOwner),
		errors.Is(err, workspace.ErrConfirmationRequired),
		errors.Is(err, workspace.ErrInvalidValue),
		errors.Is(err, search.ErrInvalidQuery),
		errors.Is(err, search.ErrNoScopes),
		errors.Is(err, embeddings.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.Is(err, embeddings.ErrProviderUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func toEntryResponse(e workspace.Entry) entryResponse {
	resp := entryResponse{
		Key:         e.Key(),
		Value:       string(e.Value),
		ContentType: e.ContentType,
		Meta:        e.Meta,
		CreatedAt:   e.CreatedAt,
		Embedded:    e.Embedded,
	}
	if !e.ExpiresAt.IsZero() {
		expires := e.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}
