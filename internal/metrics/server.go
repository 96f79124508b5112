package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fusekit/fusekit/pkg/logging"
)

type server struct {
	http   *http.Server
	cancel context.CancelFunc
}

// SetLogger routes server and sampler noise through log.
func (c *Collector) SetLogger(log *logging.Logger) {
	if log != nil {
		c.log = log.WithComponent("metrics")
	}
}

// SetHealth installs the probe behind /health. A nil error means healthy;
// without a probe the endpoint always reports healthy.
func (c *Collector) SetHealth(fn func() error) {
	c.mu.Lock()
	c.health = fn
	c.mu.Unlock()
}

// Handler builds the exposition endpoints. It is what Start serves, exposed
// so embedders can mount the collector on their own server.
func (c *Collector) Handler() http.Handler {
	if !c.enabled() {
		return http.NotFoundHandler()
	}
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", c.handleHealth)
	mux.HandleFunc("/debug/ops", c.handleOps)
	return mux
}

// Start serves the exposition endpoints in the background and begins the
// sampler ticks. It returns immediately; the server lives until Stop or ctx
// cancellation.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	if c.srv != nil {
		return fmt.Errorf("metrics: server already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.srv = &server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", c.config.Port),
			Handler:           c.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		cancel: cancel,
	}

	go func() {
		c.log.Info("metrics server listening", map[string]interface{}{
			"addr": c.srv.http.Addr, "path": c.config.Path,
		})
		if err := c.srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.log.Error("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	go c.sampleLoop(loopCtx)
	return nil
}

// Stop shuts the exposition server down and ends the sampler ticks.
func (c *Collector) Stop(ctx context.Context) error {
	if c.srv == nil {
		return nil
	}
	c.srv.cancel()
	err := c.srv.http.Shutdown(ctx)
	c.srv = nil
	return err
}

func (c *Collector) sampleLoop(ctx context.Context) {
	interval := c.config.UpdateInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) handleHealth(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	probe := c.health
	c.mu.RUnlock()

	if probe != nil {
		if err := probe(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": c.Uptime().String(),
	})
}

func (c *Collector) handleOps(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"uptime":     c.Uptime().String(),
		"operations": c.Snapshot(),
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
