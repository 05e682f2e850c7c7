package rewards

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_requests_total",
			Help: "HTTP запросы по маршруту и статусу",
		},
		[]string{"method", "route", "code"},
	)

	httpRequestsError = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_errors_total",
			Help: "HTTP ответы со статусом 4xx/5xx",
		},
		[]string{"route", "code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rewards_http_request_duration_seconds",
			Help:    "Время обработки запроса",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

type logResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *logResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// websocket
func (w *logResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack is not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// шаблон маршрута, а не URL: id не размножают метки
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func MiddlewareLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

			start := time.Now()
			rw := &logResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routePath(r)
			code := strconv.Itoa(rw.status)
			httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
			httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			if rw.status >= http.StatusBadRequest {
				httpRequestsError.WithLabelValues(route, code).Inc()
			}
		})
	}
}
