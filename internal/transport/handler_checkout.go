package transport

import (
	"net/http"

	"github.com/pitabwire/checkoutparity/model"
)

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	var in model.CheckoutInput
	if err := decodeBody(r, &in); err != nil {
		WriteError(w, err)
		return
	}

	summary, err := h.services.Checkout.Checkout(r.Context(), model.UserFrom(r.Context()), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}
