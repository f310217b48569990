package main

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pagepool/buffer"
)

type progress struct {
	mu   sync.Mutex
	last *result
}

func (p *progress) set(r result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &r
}

func (p *progress) get() *result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

type statsResponse struct {
	Pool   buffer.Snapshot `json:"pool"`
	Result *result         `json:"result,omitempty"`
}

func newRouter(reg *prometheus.Registry, bm *buffer.Manager, prog *progress) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, statsResponse{Pool: bm.Snapshot(), Result: prog.get()})
	})
	return r
}
