// Package server exposes the payment endpoints over HTTP.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Oven29/cinema-payments/src/events"
	"github.com/Oven29/cinema-payments/src/interfaces"
	"github.com/Oven29/cinema-payments/src/metrics"
	"github.com/Oven29/cinema-payments/src/reconcile"
	"github.com/Oven29/cinema-payments/src/status"
)

type Deps struct {
	Provider   interfaces.PaymentProvider
	Orders     interfaces.OrderStore
	Mapper     *status.Mapper
	Reconciler *reconcile.Reconciler
	Stream     *events.Stream // optional
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Log        *slog.Logger

	SuccessURL string
	FailureURL string
}

type Server struct {
	Deps
	router *gin.Engine
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}

	router := gin.New()
	s := &Server{Deps: d, router: router}

	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		vnp := api.Group("/payments/vnpay")
		vnp.POST("/create", s.handleCreate)
		vnp.GET("/return", s.handleReturn)
		vnp.GET("/ipn", s.handleIPN)

		api.GET("/orders/:id", s.handleOrder)
		if d.Stream != nil {
			api.GET("/events/orders", gin.WrapF(d.Stream.Handler()))
		}
	}

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
