// Package server assembles the single HTTP surface all four subsystems hang
// off: blob endpoints at the root, the notification and proxy APIs, static
// assets, capability discovery, metrics and the websocket relay upgrade.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ebillrelay/blossom"
	"ebillrelay/notification"
	"ebillrelay/proxy"
	"ebillrelay/relay"
)

const relayVersion = "0.1.0"

// Deps are the wired subsystems the router dispatches to.
type Deps struct {
	Notifications *notification.Service
	Proxy         *proxy.Handler
	Blobs         *blossom.Handler
	Relay         *relay.Engine
	StaticDir     string
}

// New builds the router.
func New(deps Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsAllowAll)

	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(deps.StaticDir))))
	r.Get("/relay_features", features)
	r.Handle("/metrics", promhttp.Handler())

	// Blob endpoints live at the root per the blossom protocol; the parts
	// the relay does not serve answer 501.
	r.Put("/upload", deps.Blobs.Upload)
	r.Head("/upload", blossom.NotImplemented)
	r.Get("/list/{pubkey}", blossom.NotImplemented)
	r.Put("/mirror", blossom.NotImplemented)
	r.HandleFunc("/media", blossom.NotImplemented)
	r.HandleFunc("/report", blossom.NotImplemented)
	r.Delete("/", blossom.NotImplemented)
	r.Get("/{hash}", deps.Blobs.Get)
	r.Head("/{hash}", blossom.NotImplemented)

	r.Post("/notifications/v1/start", deps.Notifications.Start)
	r.Post("/notifications/v1/register", deps.Notifications.Register)
	r.Post("/notifications/v1/send", deps.Notifications.Send)
	r.Get("/notifications/confirm_email", deps.Notifications.ConfirmEmail)
	r.Get("/notifications/preferences/{token}", deps.Notifications.Preferences)
	r.Post("/notifications/update_preferences", deps.Notifications.UpdatePreferences)

	r.Post("/proxy/v1/req", deps.Proxy.Req)

	// Relay clients connect with a GET upgrade against the root.
	r.Get("/", deps.Relay.ServeWS)

	r.NotFound(notFound)
	return r
}

// corsAllowAll mirrors the permissive policy of the public endpoint: any
// origin, method and header.
func corsAllowAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type relayFeatures struct {
	RelayVersion string         `json:"relay_version"`
	Features     []relayFeature `json:"features"`
}

type relayFeature struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// features answers the capability list custom clients probe for.
func features(w http.ResponseWriter, _ *http.Request) {
	resp := relayFeatures{
		RelayVersion: relayVersion,
		Features: []relayFeature{
			{Name: "file_upload", Version: "1"},
			{Name: "email_notifications", Version: "1"},
			{Name: "proxy", Version: "1"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("write features response failed", "error", err)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	slog.Info("not found", "uri", r.URL.String())
	w.WriteHeader(http.StatusNotFound)
}
