package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	apperrors "agentgate/internal/errors"
	"agentgate/internal/httputil"
	"agentgate/internal/models"
)

// callFrame is one tool-call request on the stream transport.
type callFrame struct {
	ID        string                 `json:"id"`
	Operation string                 `json:"operation"`
	Args      map[string]interface{} `json:"args"`
}

// resultFrame answers a callFrame.
type resultFrame struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// handleStream serves tool calls over a websocket: one JSON frame in, one
// frame out, until the client hangs up.
func (s *Server) handleStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authSvc.Authenticate(r.Context(), r.Header.Get("Authorization"), httputil.ClientIP(r))
		if err != nil {
			s.metrics.AuthFailures.Inc()
			httputil.WriteError(w, err)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.CORSAllowedOrigins,
		})
		if err != nil {
			s.logger.WithError(err).Warn("websocket accept failed")
			return
		}
		defer conn.Close(websocket.StatusInternalError, "closed")

		ctx := r.Context()
		for {
			var frame callFrame
			if err := wsjson.Read(ctx, conn, &frame); err != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			result := s.registry.Call(ctx, p, frame.Operation, frame.Args)
			if err := wsjson.Write(ctx, conn, resultFrame{
				ID:      frame.ID,
				Content: result.Content,
				IsError: result.IsError,
			}); err != nil {
				return
			}
		}
	}
}

// streamHub tracks open SSE sessions so POST /messages can route results
// back to the right stream.
type streamHub struct {
	mu       sync.Mutex
	sessions map[string]*sseSession
}

type sseSession struct {
	principal *models.Principal
	results   chan resultFrame
}

func newStreamHub() *streamHub {
	return &streamHub{sessions: make(map[string]*sseSession)}
}

func (h *streamHub) open(p *models.Principal) (string, *sseSession) {
	id := uuid.NewString()
	sess := &sseSession{principal: p, results: make(chan resultFrame, 16)}
	h.mu.Lock()
	h.sessions[id] = sess
	h.mu.Unlock()
	return id, sess
}

func (h *streamHub) get(id string) *sseSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

func (h *streamHub) close(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// handleSSE opens a Server-Sent Events stream. The first event names the
// session; tool calls are then POSTed to /messages?sessionId=<id> and their
// results arrive as "result" events here.
func (s *Server) handleSSE() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authSvc.Authenticate(r.Context(), r.Header.Get("Authorization"), httputil.ClientIP(r))
		if err != nil {
			s.metrics.AuthFailures.Inc()
			httputil.WriteError(w, err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.WriteError(w, apperrors.Internal(fmt.Errorf("streaming unsupported")))
			return
		}

		id, sess := s.streams.open(p)
		defer s.streams.close(id)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		fmt.Fprintf(w, "event: session\ndata: %s\n\n", id)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case result := <-sess.results:
				data, err := json.Marshal(result)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: result\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

// handleStreamMessage submits one tool call against an open SSE session.
func (s *Server) handleStreamMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := s.streams.get(r.URL.Query().Get("sessionId"))
		if sess == nil {
			httputil.WriteError(w, apperrors.NotFound("session"))
			return
		}

		var frame callFrame
		if err := decodeBody(r, &frame); err != nil {
			httputil.WriteError(w, err)
			return
		}

		go func(ctx context.Context) {
			result := s.registry.Call(ctx, sess.principal, frame.Operation, frame.Args)
			select {
			case sess.results <- resultFrame{ID: frame.ID, Content: result.Content, IsError: result.IsError}:
			default:
				s.logger.WithField("session", "sse").Warn("result dropped, slow consumer")
			}
		}(context.WithoutCancel(r.Context()))

		w.WriteHeader(http.StatusAccepted)
	}
}
