package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"webpushrelay/internal/apperr"
	"webpushrelay/internal/model"
	"webpushrelay/internal/store"
)

const maxSubscribeBodyBytes = 8 * 1024

type subscribeRequest struct {
	Endpoint       string  `json:"endpoint"`
	ExpirationTime *int64  `json:"expirationTime,omitempty"`
	Keys           keysReq `json:"keys"`
}

type keysReq struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type subscribeResponse struct {
	UUID        string `json:"uuid"`
	URL         string `json:"url"`
	DeleteToken string `json:"delete_token"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"public_key": s.cfg.VAPIDPublicKey})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxSubscribeBodyBytes)
	defer body.Close()

	var req subscribeRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		apperr.WriteHTTP(w, apperr.BadRequest, "invalid JSON body")
		return
	}

	sub := model.PushSubscription{
		Endpoint:       req.Endpoint,
		P256dh:         req.Keys.P256dh,
		Auth:           req.Keys.Auth,
		ExpirationTime: req.ExpirationTime,
	}
	if err := sub.Validate(s.cfg.AllowedPushHosts); err != nil {
		apperr.WriteHTTP(w, apperr.BadRequest, err.Error())
		return
	}

	uuid, err := store.NewUUID()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Internal, "id allocation failed")
		return
	}
	deleteToken, err := store.NewDeleteToken()
	if err != nil {
		apperr.WriteHTTP(w, apperr.Internal, "id allocation failed")
		return
	}

	rec := model.StoredSubscription{
		UUID:         uuid,
		Subscription: sub,
		CreatedAt:    time.Now().UTC(),
		DeleteToken:  deleteToken,
	}
	if err := s.subs.Create(r.Context(), rec); err != nil {
		s.log.Error("subscription create failed", map[string]any{"err": err})
		apperr.WriteHTTP(w, apperr.Internal, "id allocation failed")
		return
	}

	resp := subscribeResponse{
		UUID:        uuid,
		URL:         strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + uuid,
		DeleteToken: deleteToken,
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	uuid := mux.Vars(r)["uuid"]
	token := strings.TrimSpace(r.Header.Get("x-delete-token"))
	if token == "" {
		apperr.WriteHTTP(w, apperr.Unauthorized, "x-delete-token header is required")
		return
	}

	rec, err := s.subs.Get(r.Context(), uuid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apperr.WriteHTTP(w, apperr.NotFound, "subscription not found")
			return
		}
		apperr.WriteHTTP(w, apperr.Internal, "internal error")
		return
	}
	if token != rec.DeleteToken {
		apperr.WriteHTTP(w, apperr.Forbidden, "delete token mismatch")
		return
	}
	if err := s.subs.Delete(r.Context(), uuid); err != nil {
		apperr.WriteHTTP(w, apperr.Internal, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
