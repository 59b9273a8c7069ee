// Package rpc exposes the savings ledger over HTTP: mutating operations,
// read accessors and journal replay for off-chain reconciliation.
package rpc

import (
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"rsavings/core/events"
	"rsavings/native/rtoken"
	"rsavings/native/strategy"
	"rsavings/observability"
)

// Server wires the ledger engine, token, journal and metrics behind a chi
// router.
type Server struct {
	engine  *rtoken.Engine
	token   *strategy.LedgerToken
	journal *events.Journal
	metrics *observability.Metrics
	logger  *slog.Logger
	limiter *rate.Limiter

	// interestBase is the pool's cumulative interest at the last gauge
	// refresh; the counter advances by the delta since then.
	interestMu   sync.Mutex
	interestBase *big.Int
}

// Options configures server construction.
type Options struct {
	Engine   *rtoken.Engine
	Token    *strategy.LedgerToken
	Journal  *events.Journal
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Registry *prometheus.Registry
	// RatePerSecond and Burst govern mutating requests; read routes are not
	// limited.
	RatePerSecond float64
	Burst         int
}

// NewServer builds the HTTP handler for the service.
func NewServer(opts Options) (*Server, http.Handler) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	perSecond := opts.RatePerSecond
	if perSecond <= 0 {
		perSecond = 50
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 100
	}
	s := &Server{
		engine:  opts.Engine,
		token:   opts.Token,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
	s.interestBase = big.NewInt(0)
	if s.engine != nil {
		if stats, err := s.engine.PoolStats(); err == nil {
			s.interestBase = stats.InterestPaid
		}
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/mint", s.handleMint)
			r.Post("/redeem", s.handleRedeem)
			r.Post("/redeem_all", s.handleRedeemAll)
			r.Post("/transfer", s.handleTransfer)
			r.Post("/approve", s.handleApprove)
			r.Post("/hats", s.handleCreateHat)
			r.Put("/accounts/{addr}/hat", s.handleChangeHat)
		})
		r.Get("/accounts/{addr}", s.handleAccountStats)
		r.Get("/hats/{id}", s.handleDescribeHat)
		r.Get("/pool", s.handlePoolStats)
		r.Get("/events", s.handleEvents)
	})
	return s, r
}

// throttle applies the shared token bucket to mutating requests.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// refreshGauges re-reads pool totals into the prometheus gauges after a
// successful mutation.
func (s *Server) refreshGauges() {
	if s.metrics == nil {
		return
	}
	stats, err := s.engine.PoolStats()
	if err != nil {
		s.logger.Warn("pool stats refresh failed", "error", err)
		return
	}
	s.metrics.PoolShares.Set(bigToFloat(stats.StrategyShares))
	s.metrics.PoolValue.Set(bigToFloat(stats.PoolValue))
	s.metrics.DustShares.Set(bigToFloat(stats.DustShares))
	s.metrics.HatsCreated.Set(float64(stats.Hats))
	if s.journal != nil {
		s.metrics.EventSequence.Set(float64(s.journal.LastSequence()))
	}
	s.interestMu.Lock()
	delta := new(big.Int).Sub(stats.InterestPaid, s.interestBase)
	if delta.Sign() > 0 {
		s.metrics.InterestPaid.Add(bigToFloat(delta))
		s.interestBase = stats.InterestPaid
	}
	s.interestMu.Unlock()
}

func bigToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
