package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/pitabwire/checkoutparity/model"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// decodeBody reads a JSON object into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return model.NewValidationError(MsgMalformedJSON)
	}
	return nil
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var in model.RegisterInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}

	user, err := h.services.Users.Register(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, user.Public())
}

// loginResponse is the REST login shape. The user is not exposed.
type loginResponse struct {
	Token string `json:"token"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := decodeBody(r, &creds); err != nil {
		WriteError(w, err)
		return
	}

	res, err := h.services.Users.Login(r.Context(), creds)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, loginResponse{Token: res.Token})
}
