package lockhttp

import (
	"fmt"
	"net/http"

	"github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

// Operation is a route together with the metadata documenting it.
type Operation struct {
	http.Handler

	Method  string
	Pattern string

	ID          string
	Summary     string
	Description string
	Tags        []string

	Request   any
	Responses map[int]any
}

// OperationContext describes o for reflector.
func (o *Operation) OperationContext(reflector *openapi3.Reflector) (openapi.OperationContext, error) {
	op, err := reflector.NewOperationContext(o.Method, o.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to map OperationContext: %w", err)
	}

	op.SetID(o.ID)
	op.SetSummary(o.Summary)
	op.SetDescription(o.Description)
	op.SetTags(o.Tags...)

	if o.Request != nil {
		op.AddReqStructure(o.Request)
	}

	for status, object := range o.Responses {
		op.AddRespStructure(object, openapi.WithHTTPStatus(status))
	}

	return op, nil
}

type OperationFunc func(*Operation)

func WithID(id string) OperationFunc {
	return func(o *Operation) {
		o.ID = id
	}
}

func WithSummary(summary string) OperationFunc {
	return func(o *Operation) {
		o.Summary = summary
	}
}

func WithDescription(description string) OperationFunc {
	return func(o *Operation) {
		o.Description = description
	}
}

func WithTags(tags ...string) OperationFunc {
	return func(o *Operation) {
		o.Tags = tags
	}
}

func WithRequest(object any) OperationFunc {
	return func(o *Operation) {
		o.Request = object
	}
}

func WithResponse(status int, object any) OperationFunc {
	return func(o *Operation) {
		if o.Responses == nil {
			o.Responses = make(map[int]any)
		}
		o.Responses[status] = object
	}
}

// Handle builds an operation serving method and pattern with handler.
func Handle(method, pattern string, handler http.Handler, options ...OperationFunc) *Operation {
	op := Operation{
		Handler: handler,
		Method:  method,
		Pattern: pattern,
	}
	for _, fn := range options {
		fn(&op)
	}
	return &op
}
