package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/chainguard-dev/clog"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qws941/safewallet/webpush"
	"github.com/qws941/safewallet/webpush/queue"
	"github.com/qws941/safewallet/webpush/storage"
	"github.com/qws941/safewallet/webpush/vapid"
)

type health struct {
	Status     string `json:"status"`
	Configured bool   `json:"configured"`
}

// subscriptionLookup finds the stored subscriptions of a user.
type subscriptionLookup interface {
	GetByUserID(ctx context.Context, userID string) ([]*storage.Record, error)
}

type notifyRequest struct {
	Type    string          `json:"type"`
	UserIDs []string        `json:"userIds"`
	Payload webpush.Message `json:"payload"`
}

type notifyResponse struct {
	ID            string `json:"id,omitempty"`
	Subscriptions int    `json:"subscriptions"`
}

func newRouter(gatherer prometheus.Gatherer, signer vapid.Signer, subs subscriptionLookup, sender queue.Sender) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, health{Status: "ok", Configured: signer != nil})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Browsers need the application server key to subscribe.
	r.Get("/vapid-public-key", func(w http.ResponseWriter, _ *http.Request) {
		if signer == nil {
			http.Error(w, "VAPID keys not configured", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"publicKey": vapid.ApplicationServerKey(signer.PublicKey()),
		})
	})

	r.Post("/notifications", notify(subs, sender))
	return r
}

// notify enqueues one message addressed to every subscription of the named
// users. Nothing is enqueued when they have no subscriptions.
func notify(subs subscriptionLookup, sender queue.Sender) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := clog.FromContext(ctx)

		var req notifyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Type == "" || len(req.UserIDs) == 0 {
			http.Error(w, "type and userIds are required", http.StatusBadRequest)
			return
		}

		var records []*storage.Record
		for _, id := range req.UserIDs {
			rs, err := subs.GetByUserID(ctx, id)
			if err != nil {
				log.Errorf("looking up subscriptions for %s: %v", id, err)
				http.Error(w, "subscription lookup failed", http.StatusInternalServerError)
				return
			}
			records = append(records, rs...)
		}
		if len(records) == 0 {
			writeJSON(w, http.StatusOK, notifyResponse{})
			return
		}

		msg := queue.NewMessage(req.Type, records, req.Payload)
		if err := queue.Enqueue(ctx, sender, msg); err != nil {
			log.Errorf("%v", err)
			http.Error(w, "enqueue failed", http.StatusServiceUnavailable)
			return
		}
		log.Infof("enqueued %s message %s for %d subscriptions", msg.Type, msg.ID, len(records))
		writeJSON(w, http.StatusAccepted, notifyResponse{ID: msg.ID, Subscriptions: len(records)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
