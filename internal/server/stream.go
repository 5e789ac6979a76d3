package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ashita-ai/kaiun/internal/jsonrpc"
	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/session"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Event names on the streaming transport.
const (
	eventEndpoint = "endpoint"
	eventMessage  = "message"
)

// HandleSSE handles GET /sse. It opens a session, announces the endpoint
// clients post requests to, then streams the session's events until the
// client disconnects or the session is closed.
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	sess, err := h.sessions.Open()
	if err != nil {
		h.logger.Error("sse: open session", "error", err, "request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to open session")
		return
	}
	defer func() { _ = h.sessions.Close(sess.ID) }()

	startStream(w)
	if err := writeEvent(w, eventEndpoint, []byte("/messages?session_id="+sess.ID)); err != nil {
		return
	}
	flusher.Flush()
	h.logger.Info("sse: session opened", "session_id", sess.ID, "request_id", RequestIDFromContext(r.Context()))

	keepalive := time.NewTicker(h.keepAlive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("sse: client disconnected", "session_id", sess.ID)
			return
		case <-sess.Done():
			// Reaped or closed elsewhere; drain what is already queued.
			drain(w, sess)
			flusher.Flush()
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sess.Events():
			if err := writeEvent(w, ev.Name, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func drain(w io.Writer, sess *session.Session) {
	for {
		select {
		case ev := <-sess.Events():
			if writeEvent(w, ev.Name, ev.Data) != nil {
				return
			}
		default:
			return
		}
	}
}

func writeEvent(w io.Writer, name string, data []byte) error {
	_, err := w.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n"))
	return err
}

// HandleMessages handles POST /messages?session_id=. The envelope and the
// session are checked before anything is queued; failures there are
// answered inline. Accepted requests run on the session lane and their
// responses arrive on the event stream.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	if _, err := h.sessions.Get(id); err != nil {
		writeRaw(w, http.StatusNotFound, jsonrpc.Failure(nil, jsonrpc.FromError(toolerr.SessionNotFound(id))))
		return
	}

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

	meta := jsonrpc.Meta{
		Transport: model.TransportStream,
		SessionID: id,
		RequestID: RequestIDFromContext(r.Context()),
	}
	err = h.sessions.Submit(id, func(ctx context.Context) {
		resp := h.dispatcher.Dispatch(ctx, req, meta)
		if req.IsNotification() {
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			h.logger.Error("sse: encode response", "error", err, "session_id", id, "request_id", meta.RequestID)
			return
		}
		if err := h.sessions.Deliver(ctx, id, session.Event{Name: eventMessage, Data: data}); err != nil {
			h.logger.Debug("sse: response not delivered", "session_id", id, "request_id", meta.RequestID, "error", err)
		}
	})
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeRaw(w, http.StatusNotFound, jsonrpc.Failure(req.ID, jsonrpc.FromError(toolerr.SessionNotFound(id))))
		return
	case errors.Is(err, session.ErrQueueFull):
		writeRaw(w, http.StatusServiceUnavailable, jsonrpc.Failure(req.ID, jsonrpc.FromError(toolerr.Business("session is busy, retry shortly"))))
		return
	case err != nil:
		h.logger.Error("sse: submit", "error", err, "session_id", id)
		writeRaw(w, http.StatusInternalServerError, jsonrpc.Failure(req.ID, jsonrpc.FromError(err)))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("Accepted"))
}

// readBody reads at most maxBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
}

func statusForBodyError(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func bodyErrorMessage(err error) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return "request body too large"
	}
	return "unreadable request body"
}
