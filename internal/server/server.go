package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reviewflow/internal/domain"
	"reviewflow/internal/engine"
	"reviewflow/internal/engine/auth"
	"reviewflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Policy decides who may change the auto-assignment settings.
	Policy auth.Policy
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"duplicate_pending_item"`
	Message string         `json:"message" example:"risk_assessment sys-42 already has a pending approval request"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"existing_item_id\":\"3f0c\"}"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the review API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request schema violations are client errors, not domain failures.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	if m := cfg.Engine.Metrics; m != nil {
		router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	}
	hcfg := huma.DefaultConfig("Reviewflow API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerAssignments(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerExpertReviews(group, cfg.Engine)
	registerSettings(group, cfg.Engine, cfg.Policy)
	registerReviewers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors to the API envelope. Domain errors keep
// their stable code; anything else is an internal error.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	code := domain.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "not_found":
		status = http.StatusNotFound
	case "duplicate_pending_item", "invalid_transition", "stale_state", "settings_version_conflict":
		status = http.StatusConflict
	case "auto_assignment_disabled":
		status = http.StatusPreconditionFailed
	case "invalid_strategy", "invalid_role_or_department", "no_reviewers_selected", "unknown_reviewer", "invalid_input":
		status = http.StatusBadRequest
	case "no_eligible_reviewers":
		status = http.StatusUnprocessableEntity
	case "unavailable":
		status = http.StatusServiceUnavailable
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
	return newAPIError(status, code, err.Error(), errorDetails(err))
}

func errorDetails(err error) map[string]any {
	var (
		dup      domain.DuplicatePendingItemError
		trans    domain.InvalidTransitionError
		stale    domain.StaleStateError
		unknown  domain.UnknownReviewerError
		strat    domain.InvalidStrategyError
		field    domain.InvalidRoleOrDepartmentError
		version  domain.SettingsVersionConflictError
		input    domain.InvalidInputError
		eligible domain.NoEligibleReviewersError
	)
	switch {
	case errors.As(err, &dup):
		return map[string]any{"existing_item_id": dup.ExistingItemID}
	case errors.As(err, &trans):
		return map[string]any{"current_status": trans.From, "requested_status": trans.To}
	case errors.As(err, &stale):
		return map[string]any{"current_status": stale.CurrentStatus, "current_revision": stale.CurrentRevision}
	case errors.As(err, &unknown):
		return map[string]any{"reviewer_id": unknown.ReviewerID}
	case errors.As(err, &strat):
		return map[string]any{"invalid_field": "strategy_type", "value": strat.Strategy}
	case errors.As(err, &field):
		return map[string]any{"invalid_field": field.Field}
	case errors.As(err, &version):
		return map[string]any{"current_version": version.Current}
	case errors.As(err, &input):
		return map[string]any{"invalid_field": input.Field}
	case errors.As(err, &eligible):
		return map[string]any{"strategy": eligible.Strategy}
	case errors.As(err, new(domain.AutoAssignmentDisabledError)):
		return map[string]any{"reason": "disabled"}
	}
	return nil
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI renders the document once, after every operation is
// registered; handlers only ever read the bytes.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	applyAuthSecurity(oas, basePath)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Reviewflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check with item counts per status",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		counts, err := e.Summary(ctx)
		if err != nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "store unavailable", map[string]any{"error": err.Error()})
		}
		items := make(map[string]int, len(counts))
		for status, n := range counts {
			items[string(status)] = n
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok", Items: items}}, nil
	})
}

type itemPath struct {
	ItemID string `path:"item_id"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-item",
		Method:        http.MethodPost,
		Path:          "/items",
		Summary:       "Submit an artifact for approval",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body SubmitItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SubmitOptions{
			ModuleType:  domain.ModuleType(input.Body.ModuleType),
			ModuleID:    input.Body.ModuleID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Priority:    domain.Priority(stringOrEmpty(input.Body.Priority)),
			DueDate:     stringOrEmpty(input.Body.DueDate),
			ActorID:     actorID,
		}
		it, err := e.SubmitForApproval(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-exists",
		Method:      http.MethodGet,
		Path:        "/items/exists",
		Summary:     "Check whether a module has a non-terminal item",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ModuleType string `query:"module_type" required:"true"`
		ModuleID   string `query:"module_id" required:"true"`
	}) (*struct {
		Body ExistsResponse `json:"body"`
	}, error) {
		it, ok, err := e.CheckExists(ctx, domain.ModuleType(input.ModuleType), input.ModuleID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ExistsResponse{Exists: ok}
		if ok {
			resp.ItemID = it.ID
			resp.Status = string(it.Status)
		}
		return &struct {
			Body ExistsResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items",
		Summary:     "List items, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status"`
		ModuleType string `query:"module_type"`
		ModuleID   string `query:"module_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedItems `json:"body"`
	}, error) {
		page, err := e.ListItems(ctx, engine.ItemQuery{
			Status:     domain.Status(input.Status),
			ModuleType: domain.ModuleType(input.ModuleType),
			ModuleID:   input.ModuleID,
			AssigneeID: input.AssigneeID,
			Limit:      normalizeLimit(input.Limit),
			Cursor:     input.Cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedItems `json:"body"`
		}{Body: paginatedItems{Items: mapItems(page.Items), NextCursor: page.NextCursor}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-item",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}",
		Summary:     "Get item",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		it, err := e.GetItem(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})
}

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/items/{item_id}/assignments",
		Summary:     "Assignment history of an item, oldest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		rows, err := e.ListAssignments(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]AssignmentResponse, 0, len(rows))
		for _, a := range rows {
			out = append(out, assignmentResponse(a))
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-manual",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/assign",
		Summary:     "Assign explicit reviewers",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   AssignRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AssignManually(ctx, engine.AssignOptions{
			ItemID:           input.ItemID,
			ReviewerIDs:      input.Body.ReviewerIDs,
			Note:             stringOrEmpty(input.Body.Note),
			ActorID:          actorID,
			ExpectedRevision: int64OrZero(input.Body.ExpectedRevision),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "auto-assign",
		Method:      http.MethodPost,
		Path:        "/items/{item_id}/auto-assign",
		Summary:     "Assign reviewers with the configured strategy",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusPreconditionFailed,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string             `path:"item_id"`
		Body   *AutoAssignRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.AutoAssignOptions{ItemID: input.ItemID, ActorID: actorID}
		if input.Body != nil {
			opts.ForceAssign = input.Body.ForceAssign
		}
		it, err := e.AutoAssign(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-status",
		Method:      http.MethodPatch,
		Path:        "/items/{item_id}/status",
		Summary:     "Apply a review transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string              `path:"item_id"`
		Body   UpdateStatusRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.UpdateStatus(ctx, engine.StatusUpdateOptions{
			ItemID:           input.ItemID,
			Status:           domain.Status(input.Body.Status),
			Feedback:         input.Body.Feedback,
			ActorID:          actorID,
			ExpectedRevision: int64OrZero(input.Body.ExpectedRevision),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})
}

func registerExpertReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-expert-review",
		Method:        http.MethodPost,
		Path:          "/expert-reviews",
		Summary:       "Analyze a text and request an expert legal review",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body ExpertReviewRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.RequestExpertReview(ctx, engine.ExpertRequestOptions{
			ModuleID: input.Body.ModuleID,
			Title:    input.Body.Title,
			Text:     input.Body.Text,
			Context:  stringOrEmpty(input.Body.Context),
			Priority: domain.Priority(stringOrEmpty(input.Body.Priority)),
			DueDate:  stringOrEmpty(input.Body.DueDate),
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-expert-review",
		Method:      http.MethodPost,
		Path:        "/expert-reviews/{item_id}/complete",
		Summary:     "Record the expert's feedback and complete the review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ItemID string                      `path:"item_id"`
		Body   CompleteExpertReviewRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.CompleteExpertReview(ctx, engine.ExpertCompleteOptions{
			ItemID:           input.ItemID,
			Feedback:         input.Body.Feedback,
			ActorID:          actorID,
			ExpectedRevision: int64OrZero(input.Body.ExpectedRevision),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})
}

func registerSettings(api huma.API, e engine.Engine, policy auth.Policy) {
	huma.Register(api, huma.Operation{
		OperationID: "get-auto-assignment-settings",
		Method:      http.MethodGet,
		Path:        "/settings/auto-assignment",
		Summary:     "Current auto-assignment settings",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		s, err := e.GetSettings(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-auto-assignment-settings",
		Method:      http.MethodPut,
		Path:        "/settings/auto-assignment",
		Summary:     "Replace the auto-assignment settings",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body SettingsRequest `json:"body"`
	}) (*struct {
		Body SettingsResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := policy.Require(principal.ActorID, principal.Roles, principal.Permissions, auth.PermissionSettingsWrite); err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateAutoAssignmentSettings(ctx, engine.SettingsUpdateOptions{
			Settings: domain.AutoAssignmentSettings{
				Enabled:             input.Body.Enabled,
				StrategyType:        domain.StrategyType(input.Body.StrategyType),
				EligibleRoles:       input.Body.EligibleRoles,
				EligibleDepartments: input.Body.EligibleDepartments,
			},
			ExpectedVersion: input.Body.ExpectedVersion,
			ActorID:         principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SettingsResponse `json:"body"`
		}{Body: settingsResponse(s)}, nil
	})
}

func registerReviewers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reviewers",
		Method:      http.MethodGet,
		Path:        "/reviewers",
		Summary:     "Active reviewers with their open assignment counts",
		Errors:      []int{http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ReviewerResponse `json:"body"`
	}, error) {
		rows, err := e.ListReviewers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ReviewerResponse, 0, len(rows))
		for _, r := range rows {
			out = append(out, reviewerResponse(r))
		}
		return &struct {
			Body []ReviewerResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List transition events in id order",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ItemID string `query:"item_id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var afterID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed < 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			afterID = parsed
		}
		evs, err := e.ListEvents(ctx, repo.EventFilters{ItemID: input.ItemID, Type: input.Type, AfterID: afterID, Limit: limit})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: make([]EventResponse, 0, len(evs))}
		for _, evt := range evs {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		if len(evs) == limit {
			resp.NextCursor = strconv.FormatInt(evs[len(evs)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
