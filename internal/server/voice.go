package server

import (
	"net/http"
)

// HandleVoice handles POST /webhook and POST /voice. Every outcome,
// failures included, is a sentence the caller can speak back.
func (h *Handlers) HandleVoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	body, err := readBody(w, r, h.maxRequestBodyBytes)
	if err != nil {
		w.WriteHeader(statusForBodyError(err))
		_, _ = w.Write([]byte(h.voice.Handle(r.Context(), nil, RequestIDFromContext(r.Context()))))
		return
	}

	reply := h.voice.Handle(r.Context(), body, RequestIDFromContext(r.Context()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(reply))
}
