package webd

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	ghandlers "github.com/gorilla/handlers"
)

func permissiveCorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Add("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, If-None-Match")
		w.Header().Add("Access-Control-Expose-Headers", "ETag, Location")
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware writes one access log record per request through slog.
func (s *WebDaemon) loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(io.Discard, next, s.accessLog)
}

func (s *WebDaemon) accessLog(_ io.Writer, p ghandlers.LogFormatterParams) {
	host, _, err := net.SplitHostPort(p.Request.RemoteAddr)
	if err != nil {
		host = p.Request.RemoteAddr
	}
	for _, v := range p.Request.Header.Values("X-Forwarded-For") {
		host += "->" + v
	}
	uri := p.Request.RequestURI
	if uri == "" {
		uri = p.URL.RequestURI()
	}
	level := slog.LevelInfo
	if p.StatusCode >= 500 {
		level = slog.LevelWarn
	}
	s.logger.Log(p.Request.Context(), level, "HTTP",
		"remote", host,
		"method", p.Request.Method,
		"uri", uri,
		"proto", p.Request.Proto,
		"status", p.StatusCode,
		"size", p.Size,
		"ts", p.TimeStamp)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Handler panic", "recovered", fmt.Sprint(v...))
}
