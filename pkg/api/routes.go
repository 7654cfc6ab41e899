package api

import (
	"expvar"
	"net/http"
	"net/http/pprof"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MuxConfig contains the systems required by the public routes.
type MuxConfig struct {
	Log        *zap.SugaredLogger
	Engine     Engine
	CorsOrigin string
}

// PublicMux constructs the http.Handler serving the engine API.
func PublicMux(cfg MuxConfig) http.Handler {
	app := NewApp(cfg.Log, cfg.CorsOrigin)

	h := Handlers{
		Log:    cfg.Log.With("component", "api"),
		Engine: cfg.Engine,
		WS: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	const version = "v1"
	app.Handle(http.MethodGet, "/"+version+"/snapshot", h.Snapshot)
	app.Handle(http.MethodGet, "/"+version+"/networks", h.Networks)
	app.Handle(http.MethodPost, "/"+version+"/listening/start", h.StartListening)
	app.Handle(http.MethodPost, "/"+version+"/listening/stop", h.StopListening)
	app.Handle(http.MethodPost, "/"+version+"/network/:name", h.SwitchNetwork)
	app.Handle(http.MethodGet, "/"+version+"/events", h.Events)

	return app
}

// DebugMux registers the standard library debug endpoints, liveness and
// the prometheus metrics of reg on a fresh mux, bypassing
// http.DefaultServeMux.
func DebugMux(build string, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	mux.HandleFunc("/debug/liveness", func(w http.ResponseWriter, r *http.Request) {
		_ = Respond(w, struct {
			Status string `json:"status"`
			Build  string `json:"build"`
		}{"up", build}, http.StatusOK)
	})

	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	return mux
}
