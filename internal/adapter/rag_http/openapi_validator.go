package rag_http

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPISpec returns the embedded API document.
func OpenAPISpec() []byte {
	return openAPISpec
}

// OpenAPIValidator checks incoming requests against the embedded API document.
type OpenAPIValidator struct {
	doc    *openapi3.T
	logger *slog.Logger
}

// NewOpenAPIValidator loads and validates the embedded document.
func NewOpenAPIValidator(logger *slog.Logger) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid openapi spec: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAPIValidator{doc: doc, logger: logger}, nil
}

func (v *OpenAPIValidator) route(method, path string) (*routers.Route, error) {
	item := v.doc.Paths.Value(path)
	if item == nil {
		return nil, fmt.Errorf("path %s not in openapi spec", path)
	}
	op := item.GetOperation(method)
	if op == nil {
		return nil, fmt.Errorf("%s %s not in openapi spec", method, path)
	}
	return &routers.Route{
		Spec:      v.doc,
		Path:      path,
		PathItem:  item,
		Method:    method,
		Operation: op,
	}, nil
}

// Validate checks r against the operation at method and path. The request
// body is left readable for the handler.
func (v *OpenAPIValidator) Validate(ctx context.Context, r *http.Request, method, path string, pathParams map[string]string) error {
	route, err := v.route(method, path)
	if err != nil {
		return err
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		body, err = io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}
	defer func() {
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
	}()

	return openapi3filter.ValidateRequest(ctx, &openapi3filter.RequestValidationInput{
		Request:    r,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	})
}

// Middleware rejects requests that do not match the operation at method and
// path with 400 and the given message.
func (v *OpenAPIValidator) Middleware(method, path, message string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			params := make(map[string]string, len(c.ParamNames()))
			for i, name := range c.ParamNames() {
				params[name] = c.ParamValues()[i]
			}
			req := c.Request()
			if err := v.Validate(req.Context(), req, method, path, params); err != nil {
				v.logger.DebugContext(req.Context(), "request rejected by openapi validation",
					"method", method, "path", path, "error", err)
				return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
			}
			return next(c)
		}
	}
}
