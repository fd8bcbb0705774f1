// Package transport contains the checkout controllers: the chi router, the
// middleware chain, the REST handlers and the GraphQL endpoint. Both
// transports call the same model.Services so they share one behaviour.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/checkoutparity/model"
)

// MsgInternalError is the body of a 500 response.
const MsgInternalError = "Erro interno do servidor"

// MsgMalformedJSON is returned for a request body that is not a JSON object.
const MsgMalformedJSON = "JSON inválido"

// statusForKind maps DomainError kinds to HTTP status codes.
var statusForKind = map[model.Kind]int{
	model.KindValidation: http.StatusBadRequest,
	model.KindNotFound:   http.StatusBadRequest,
	model.KindConflict:   http.StatusBadRequest,
	model.KindAuth:       http.StatusUnauthorized,
}

// ErrorBody is the REST error shape.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// StatusFor returns the REST status for a service error. Errors that are not
// a DomainError are client errors carrying their own message.
func StatusFor(err error) int {
	var de *model.DomainError
	if errors.As(err, &de) {
		if status, ok := statusForKind[de.Kind]; ok {
			return status
		}
	}
	return http.StatusBadRequest
}

// WriteError writes {"error": message} with the status for err.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), ErrorBody{Error: err.Error()})
}

// WriteInternalError writes a 500 response.
func WriteInternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{Error: MsgInternalError})
}
