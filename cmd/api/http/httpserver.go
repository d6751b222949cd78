package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

type ServerConfig struct {
	Port           int
	RequestTimeout time.Duration
	CORSOrigins    []string
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

/*
Registers the routes and wraps the router in the middleware chain:
recoverPanic -> requestID -> logRequests -> cors -> rateLimit -> router.
*/
func NewServer(config ServerConfig, h *BookHandler, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	h.requestTimeout = config.RequestTimeout

	router := httprouter.New()
	router.NotFound = http.HandlerFunc(h.notFound)
	router.MethodNotAllowed = http.HandlerFunc(h.methodNotAllowed)

	router.HandlerFunc(http.MethodGet, "/ping", ping)
	router.HandlerFunc(http.MethodPost, "/api/books", h.createBook)
	router.HandlerFunc(http.MethodGet, "/api/books", h.listBooks)
	router.HandlerFunc(http.MethodGet, "/api/books/:id", h.getBookById)
	router.HandlerFunc(http.MethodPost, "/api/books/:id/review", h.upsertReview)
	router.HandlerFunc(http.MethodGet, "/api/books/:id/review", h.getReview)

	var (
		handler  http.Handler = router
		done                  = make(chan struct{})
		stopOnce sync.Once
	)
	if config.RateLimitRPS > 0 {
		handler = rateLimit(config.RateLimitRPS, config.RateLimitBurst, done, logger, handler)
	}
	handler = cors(config.CORSOrigins, handler)
	handler = logRequests(logger, handler)
	handler = requestID(handler)
	handler = recoverPanic(logger, handler)

	server := http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	// Background middleware work stops on Shutdown.
	server.RegisterOnShutdown(func() {
		stopOnce.Do(func() { close(done) })
	})
	return &server
}

/* Tests the http server connection. */
func ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
