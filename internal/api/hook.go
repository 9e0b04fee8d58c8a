package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"webpushrelay/internal/apperr"
	"webpushrelay/internal/chunk"
	"webpushrelay/internal/framing"
	"webpushrelay/internal/queue"
	"webpushrelay/internal/store"
)

// handleHook is the hook request coordinator (spec §4.4): resolve
// subscription, gate on the rate limiter, frame+chunk the streamed body,
// and enqueue one durable queue record per emitted envelope.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	uuidStr := mux.Vars(r)["uuid"]

	if _, err := s.subs.Get(r.Context(), uuidStr); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apperr.WriteHTTP(w, apperr.NotFound, "subscription not found")
			return
		}
		apperr.WriteHTTP(w, apperr.Internal, "internal error")
		return
	}

	if allowed, retryAfter := s.limiter.Allow(uuidStr); !allowed {
		w.Header().Set("Retry-After", retryAfter.Round(time.Second).String())
		apperr.WriteHTTP(w, apperr.TooManyRequests, "rate limit exceeded")
		return
	}

	meta := framing.BuildHookMeta(r, s.clientIP(r))
	metaBytes, err := meta.Marshal()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Internal, "internal error")
		return
	}
	if int64(len(metaBytes)) > s.cfg.MaxPayloadBytes {
		apperr.WriteHTTP(w, apperr.PayloadTooLarge, "request metadata exceeds max payload size")
		return
	}
	maxBodyBytes := s.cfg.MaxPayloadBytes - int64(len(metaBytes))
	if r.ContentLength > 0 && r.ContentLength > maxBodyBytes {
		apperr.WriteHTTP(w, apperr.PayloadTooLarge, "payload exceeds limit")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.readTimeout())
	defer cancel()

	requestID := uuid.NewString()
	opts := chunk.Options{
		MaxBodyBytes:   maxBodyBytes,
		ChunkDataBytes: s.cfg.ChunkDataBytes,
		ChunkDelayMS:   s.cfg.ChunkDelayMS,
	}

	err = chunk.Stream(ctx, requestID, metaBytes, r.Body, opts, func(c chunk.Chunk) error {
		payload, merr := c.Envelope.Marshal()
		if merr != nil {
			return merr
		}
		rec := queue.Record{
			UUID:        uuidStr,
			SendAfterMS: c.SendAfter.UnixMilli(),
			Attempts:    0,
			Payload:     payload,
		}
		if eerr := s.q.Enqueue(ctx, rec); eerr != nil {
			return eerr
		}
		return nil
	})

	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, chunk.ErrBodyTimeout):
		apperr.WriteHTTP(w, apperr.RequestTimeout, "request body timeout")
	case errors.Is(err, chunk.ErrPayloadExceedsLimit):
		apperr.WriteHTTP(w, apperr.PayloadTooLarge, "payload exceeds limit")
	case errors.Is(err, chunk.ErrInvalidBody):
		apperr.WriteHTTP(w, apperr.BadRequest, "invalid request body")
	case errors.Is(err, chunk.ErrOverheadExceedsLimit):
		apperr.WriteHTTP(w, apperr.PayloadTooLarge, "chunk overhead exceeds push limit")
	case errors.Is(err, queue.ErrFull):
		apperr.WriteHTTP(w, apperr.ServiceUnavailable, "queue full")
	default:
		s.log.Error("hook coordinator failed", map[string]any{"err": err, "uuid": uuidStr})
		apperr.WriteHTTP(w, apperr.Internal, "internal error")
	}
}
