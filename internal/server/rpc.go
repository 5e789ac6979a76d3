package server

import (
	"net/http"

	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// HandleRPC handles POST /rpc. Envelope failures are answered 400 before the
// registry is consulted; every dispatched request is answered 200 with
// either a result or a JSON-RPC error. Notifications get 204.
func (h *Handlers) HandleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxRequestBodyBytes)
	if err != nil {
		writeRaw(w, statusForBodyError(err), jsonrpc.Failure(nil, jsonrpc.FromError(toolerr.Protocol("%s", bodyErrorMessage(err)))))
		return
	}

	req, perr := jsonrpc.Decode(body)
	if perr != nil {
		writeRaw(w, http.StatusBadRequest, jsonrpc.Failure(req.ID, perr))
		return
	}

	resp := h.dispatcher.Dispatch(r.Context(), req, jsonrpc.Meta{
		Transport: model.TransportRPC,
		RequestID: RequestIDFromContext(r.Context()),
	})
	if req.IsNotification() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeRaw(w, http.StatusOK, resp)
}
