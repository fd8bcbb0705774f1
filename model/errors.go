package model

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. Transports map kinds to status codes.
type Kind string

// Error kinds.
const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindAuth       Kind = "auth"
	KindConflict   Kind = "conflict"
)

// Canonical messages. Both transports report the same string for the same
// failure so suites can assert one literal against either.
const (
	MsgEmailTaken         = "Email já cadastrado"
	MsgInvalidCredentials = "Credenciais inválidas"
	MsgInvalidToken       = "Token inválido"
	MsgCardDataRequired   = "Dados do cartão obrigatórios para pagamento com cartão"
	MsgProductNotFound    = "Produto não encontrado"
)

// DomainError is the error returned by the user and checkout services.
// It implements the error interface.
type DomainError struct {
	Kind    Kind
	Message string
}

// Error implements the error interface. Only the message is returned so the
// string surfaces unchanged in REST bodies and GraphQL error lists.
func (e *DomainError) Error() string {
	return e.Message
}

// Extensions exposes the error kind in GraphQL error extensions.
func (e *DomainError) Extensions() map[string]any {
	return map[string]any{"code": string(e.Kind)}
}

// String includes the kind, for logs.
func (e *DomainError) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewValidationError returns a validation error.
func NewValidationError(msg string) *DomainError {
	return &DomainError{Kind: KindValidation, Message: msg}
}

// NewNotFoundError returns a not-found error.
func NewNotFoundError(msg string) *DomainError {
	return &DomainError{Kind: KindNotFound, Message: msg}
}

// NewAuthError returns an authentication error.
func NewAuthError(msg string) *DomainError {
	return &DomainError{Kind: KindAuth, Message: msg}
}

// NewConflictError returns a conflict error.
func NewConflictError(msg string) *DomainError {
	return &DomainError{Kind: KindConflict, Message: msg}
}

// Canonical constructors.

func ErrEmailTaken() *DomainError         { return NewConflictError(MsgEmailTaken) }
func ErrInvalidCredentials() *DomainError { return NewAuthError(MsgInvalidCredentials) }
func ErrInvalidToken() *DomainError       { return NewAuthError(MsgInvalidToken) }
func ErrCardDataRequired() *DomainError   { return NewValidationError(MsgCardDataRequired) }
func ErrProductNotFound() *DomainError    { return NewNotFoundError(MsgProductNotFound) }

// KindOf returns the kind of err if it wraps a DomainError.
func KindOf(err error) (Kind, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
