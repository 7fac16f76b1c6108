package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/platform/httpserver"
)

//go:embed openapi.yaml
var openapiDocument []byte

const maxRequestBytes = 10 << 20

// requestValidator checks admin requests against the embedded OpenAPI
// document. Requests that match no documented route fall through to the mux.
type requestValidator struct {
	logger *slog.Logger
	router routers.Router
}

func newRequestValidator(ctx context.Context, logger *slog.Logger) (*requestValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiDocument)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("openapi router: %w", err)
	}
	return &requestValidator{logger: logger, router: router}, nil
}

func (v *requestValidator) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		}
		route, pathParams, err := v.router.FindRoute(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				httpserver.WriteError(w, r, http.StatusRequestEntityTooLarge, "request_too_large")
				return
			}
			if v.logger != nil {
				v.logger.Info("admin request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
			}
			var verr domain.ValidationError
			verr.AddNonField(validationMessage(err))
			httpserver.WriteJSON(w, http.StatusBadRequest, verr.Body())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			return schemaErr.Reason
		}
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid parameter %s: %s", reqErr.Parameter.Name, reqErr.Error())
		}
		return reqErr.Error()
	}
	return err.Error()
}
