package commands

import (
	stdlog "log"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Globals struct {
	Debug    bool
	LogLevel string
	Version  string
}

func configureHTTPServer(addr string, handler http.Handler, logger zerolog.Logger) *http.Server {
	// Create HTTP server
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
		ErrorLog:          stdlog.New(logger.With().Str("component", "http").Logger(), "", 0),
	}
}
