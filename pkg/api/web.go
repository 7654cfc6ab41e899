package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"go.uber.org/zap"
)

// Handler is the signature of every route. A returned error is rendered as
// a JSON ErrorResponse.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// ErrorResponse is the body sent for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RequestError carries an expected failure and the status to report it with.
type RequestError struct {
	Err    error
	Status int
}

// NewRequestError wraps err with an HTTP status code.
func NewRequestError(err error, status int) error {
	return &RequestError{Err: err, Status: status}
}

func (re *RequestError) Error() string {
	return re.Err.Error()
}

func (re *RequestError) Unwrap() error {
	return re.Err
}

// App is a router that speaks Handler instead of http.HandlerFunc.
type App struct {
	mux    *httptreemux.ContextMux
	log    *zap.SugaredLogger
	origin string
}

// NewApp constructs an App. An empty origin disables CORS headers.
func NewApp(log *zap.SugaredLogger, origin string) *App {
	app := App{
		mux:    httptreemux.NewContextMux(),
		log:    log,
		origin: origin,
	}
	if origin != "" {
		app.mux.OptionsHandler = func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			app.cors(w)
			w.WriteHeader(http.StatusNoContent)
		}
	}
	return &app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// Handle registers handler for method and path.
func (a *App) Handle(method string, path string, handler Handler) {
	h := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		a.cors(w)

		err := handler(r.Context(), w, r)

		var re *RequestError
		switch {
		case err == nil:
		case errors.As(err, &re):
			if werr := Respond(w, ErrorResponse{Error: re.Error()}, re.Status); werr != nil {
				a.log.Warnw("respond", "path", r.URL.Path, "error", werr)
			}
		default:
			a.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			if werr := Respond(w, ErrorResponse{Error: http.StatusText(http.StatusInternalServerError)}, http.StatusInternalServerError); werr != nil {
				a.log.Warnw("respond", "path", r.URL.Path, "error", werr)
			}
		}

		a.log.Debugw("request completed", "method", r.Method, "path", r.URL.Path, "since", time.Since(start))
	}
	a.mux.Handle(method, path, h)
}

func (a *App) cors(w http.ResponseWriter) {
	if a.origin == "" {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", a.origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding")
}

// Param returns the named path parameter of the current request.
func Param(r *http.Request, key string) string {
	return httptreemux.ContextParams(r.Context())[key]
}

// Respond writes data as JSON with the given status.
func Respond(w http.ResponseWriter, data any, status int) error {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	return err
}
