package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"DTokenSale/internal/events"
)

type Options struct {
	Logger      *slog.Logger
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	// Events enables GET /ws when set.
	Events *events.Bus
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(cors(opts.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, opts.Metrics)
	}
	if opts.Events != nil {
		r.Handle("/ws", NewEventStream(opts.Events, logger, opts.CORSOrigins))
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(NewRateLimiter(opts.RateLimit, opts.RateBurst).Middleware)
		}

		r.Route("/sale", func(r chi.Router) {
			r.Get("/", handler.GetSale)
			r.Get("/prices/{asset}", handler.GetPrice)
			r.Post("/buy", handler.Buy)
			r.Post("/liquidity", handler.DepositLiquidity)
			r.Get("/orders/{orderId}", handler.GetOrder)
			r.Post("/orders/{orderId}/claim", handler.Claim)
			r.Post("/orders/{orderId}/sell", handler.Sell)
			r.Get("/accounts/{account}/orders", handler.AccountOrders)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Post("/approve", handler.Approve)
			r.Get("/{asset}/{account}", handler.GetLedger)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/admin", handler.ChangeAdmin)
			r.Post("/native-oracle", handler.SetNativeOracle)
			r.Post("/assets", handler.RegisterAsset)
			r.Post("/orders/{orderId}/timeline", handler.ChangeTimeline)
		})
	})

	return &Server{Router: r}
}
