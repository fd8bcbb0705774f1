// Package contract loads the OpenAPI description of the checkout REST API
// and validates request and response bodies against it.
package contract

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed checkout-api.yaml
var checkoutAPI []byte

// Operation holds a resolved OpenAPI operation with its route.
type Operation struct {
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
	Responses    *openapi3.Responses
	Secured      bool
}

// ValidationError describes one schema violation. Field is a dot path into
// the validated document, empty for the document root.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Index is an in-memory index of the contract's operations keyed by
// operationId and by route.
type Index struct {
	doc        *openapi3.T
	operations map[string]Operation
	byRoute    map[string]string
}

func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Default loads the embedded checkout API contract.
func Default() (*Index, error) {
	return Load(checkoutAPI)
}

// Load parses and validates an OpenAPI document and indexes its operations.
func Load(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("contract: loading document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("contract: validating document: %w", err)
	}

	idx := &Index{
		doc:        doc,
		operations: make(map[string]Operation),
		byRoute:    make(map[string]string),
	}
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil {
				reqBody = op.RequestBody.Value
			}
			security := doc.Security
			if op.Security != nil {
				security = *op.Security
			}
			idx.operations[op.OperationID] = Operation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				RequestBody:  reqBody,
				Responses:    op.Responses,
				Secured:      len(security) > 0,
			}
			idx.byRoute[routeKey(method, path)] = op.OperationID
		}
	}
	return idx, nil
}

// GetOperation returns the operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (Operation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// FindByRoute returns the operation served at method and path. Templated
// paths are matched by the document's path finder.
func (idx *Index) FindByRoute(method, path string) (Operation, bool) {
	if id, ok := idx.byRoute[routeKey(method, path)]; ok {
		return idx.operations[id], true
	}
	item := idx.doc.Paths.Find(path)
	if item == nil {
		return Operation{}, false
	}
	op := item.GetOperation(strings.ToUpper(method))
	if op == nil || op.OperationID == "" {
		return Operation{}, false
	}
	return idx.operations[op.OperationID], true
}

// AllOperationIDs returns every indexed operationId, sorted.
func (idx *Index) AllOperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest validates a request body against the operation's JSON
// request schema. Returns nil when the body conforms.
func (idx *Index) ValidateRequest(operationID string, body any) []ValidationError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	return visit(jsonSchema(op.RequestBody.Content), body)
}

// ValidateResponse validates a response body against the schema documented
// for method, path and status. An undocumented status is itself a violation.
func (idx *Index) ValidateResponse(method, path string, status int, body any) []ValidationError {
	op, ok := idx.FindByRoute(method, path)
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("no operation for %s %s", strings.ToUpper(method), path)}}
	}
	ref := op.Responses.Status(status)
	if ref == nil {
		ref = op.Responses.Default()
	}
	if ref == nil || ref.Value == nil {
		return []ValidationError{{Message: fmt.Sprintf("status %d is not documented for %s", status, op.OperationID)}}
	}
	return visit(jsonSchema(ref.Value.Content), body)
}

func jsonSchema(content openapi3.Content) *openapi3.Schema {
	mt := content.Get("application/json")
	if mt == nil || mt.Schema == nil {
		return nil
	}
	return mt.Schema.Value
}

func visit(schema *openapi3.Schema, body any) []ValidationError {
	if schema == nil {
		return nil
	}
	doc, err := generic(body)
	if err != nil {
		return []ValidationError{{Message: err.Error()}}
	}

	err = schema.VisitJSON(doc, openapi3.MultiErrors())
	if err == nil {
		return nil
	}

	errs := flatten(err, nil)
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

func flatten(err error, out []ValidationError) []ValidationError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			out = flatten(e, out)
		}
		return out
	}
	return append(out, toValidationError(err))
}

func toValidationError(err error) ValidationError {
	var se *openapi3.SchemaError
	if errors.As(err, &se) {
		return ValidationError{Field: strings.Join(se.JSONPointer(), "."), Message: se.Reason}
	}
	return ValidationError{Message: err.Error()}
}

// generic converts body into the decoded-JSON shape the schema visitor
// expects, so nested Go ints and structs validate like wire JSON.
func generic(body any) (any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("contract: encoding body: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("contract: decoding body: %w", err)
	}
	return out, nil
}
