package harvestd

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/i-mwangi/chai-project-sub002/integrations/exports"
	"github.com/i-mwangi/chai-project-sub002/native/common"
	"github.com/i-mwangi/chai-project-sub002/native/distribution"
	"github.com/i-mwangi/chai-project-sub002/native/lending"
	"github.com/i-mwangi/chai-project-sub002/native/pricing"
	"github.com/i-mwangi/chai-project-sub002/observability"
)

// ServerConfig carries the dependencies of the HTTP API.
type ServerConfig struct {
	Lending      *lending.Engine
	Distribution *distribution.Engine
	// Feed, when set, accepts admin price updates.
	Feed       *pricing.Feed
	Pauses     *common.Pauses
	Seizer     lending.CollateralSeizer
	Limiter    *RateLimiter
	AdminToken string
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *observability.HarvestdMetrics
	Now        func() time.Time
}

// Server exposes the lending pool and revenue distribution engines over HTTP.
type Server struct {
	lending      *lending.Engine
	distribution *distribution.Engine
	feed         *pricing.Feed
	pauses       *common.Pauses
	seizer       lending.CollateralSeizer
	limiter      *RateLimiter
	adminToken   string
	timeout      time.Duration
	logger       *slog.Logger
	metrics      *observability.HarvestdMetrics
	now          func() time.Time
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Lending == nil || cfg.Distribution == nil {
		return nil, errors.New("harvestd: lending and distribution engines required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		lending:      cfg.Lending,
		distribution: cfg.Distribution,
		feed:         cfg.Feed,
		pauses:       cfg.Pauses,
		seizer:       cfg.Seizer,
		limiter:      cfg.Limiter,
		adminToken:   strings.TrimSpace(cfg.AdminToken),
		timeout:      timeout,
		logger:       logger.With(slog.String("component", "harvestd")),
		metrics:      cfg.Metrics,
		now:          now,
	}, nil
}

// Handler returns the routed, instrumented API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(chimiddleware.Timeout(s.timeout))
		v1.Group(func(lr chi.Router) {
			lr.Use(s.limiter.Middleware("lending"), s.observe("lending"))
			lr.Get("/pools", s.listPools)
			lr.Route("/pools/{asset}", func(pr chi.Router) {
				pr.Get("/", s.getPool)
				pr.Get("/positions/{provider}", s.getPosition)
				pr.Post("/provide", s.provideLiquidity)
				pr.Post("/withdraw", s.withdrawLiquidity)
				pr.Get("/health", s.scanHealth)
				pr.Post("/loans/terms", s.loanTerms)
				pr.Post("/loans", s.originateLoan)
				pr.Get("/loans/{borrower}", s.getLoan)
				pr.Post("/loans/{borrower}/repay", s.repayLoan)
				pr.Post("/loans/{borrower}/liquidate", s.liquidateLoan)
			})
			lr.Get("/prices/{asset}", s.getPrice)
		})
		v1.Group(func(dr chi.Router) {
			dr.Use(s.limiter.Middleware("distribution"), s.observe("distribution"))
			dr.Post("/distributions", s.createDistribution)
			dr.Get("/distributions/pending", s.pendingDistributions)
			dr.Route("/distributions/{id}", func(ir chi.Router) {
				ir.Get("/", s.getDistribution)
				ir.Get("/validate", s.validateDistribution)
				ir.Post("/batches", s.processBatch)
				ir.Post("/retry", s.retryFailed)
				ir.Post("/claims/{holder}", s.claim)
				ir.Get("/export", s.exportDistribution)
			})
			dr.Get("/holders/{holder}/history", s.holderHistory)
			dr.Get("/holders/{holder}/earnings", s.holderEarnings)
			dr.Get("/groves/{grove}/farmer-balance", s.farmerBalance)
			dr.Post("/groves/{grove}/farmer-withdrawals", s.farmerWithdraw)
			dr.Get("/farmers/{farmer}/withdrawals", s.farmerWithdrawals)
		})
		v1.Group(func(ar chi.Router) {
			ar.Use(s.requireAdmin, s.observe("admin"))
			ar.Put("/admin/prices/{asset}", s.setPrice)
			ar.Put("/admin/pauses/{module}", s.setPause)
		})
	})
	return otelhttp.NewHandler(r, "harvestd")
}

func (s *Server) observe(module string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			route := r.Method
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = r.Method + " " + rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			observability.ModuleMetrics().Observe(module, route, status, time.Since(start))
		})
	}
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(s.adminToken)) != 1 {
			s.fail(w, r, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	writeJSONError(w, status, err.Error())
}

func (s *Server) recordPool(pool *lending.Pool) {
	if pool != nil {
		s.metrics.RecordPool(pool.Asset, pool.TotalLiquidity, pool.TotalBorrowed)
	}
}

func (s *Server) refreshPool(r *http.Request, asset string) {
	if s.metrics == nil {
		return
	}
	pool, err := s.lending.Pool(r.Context(), asset)
	if err == nil {
		s.recordPool(pool)
	}
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.lending.ListPools(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]poolView, 0, len(pools))
	for _, pool := range pools {
		out = append(out, newPoolView(pool))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	stats, err := s.lending.PoolStats(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.recordPool(stats.Pool)
	writeJSON(w, http.StatusOK, newPoolStatsView(stats))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.lending.Position(r.Context(), chi.URLParam(r, "asset"), chi.URLParam(r, "provider"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionView(view))
}

func (s *Server) provideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req provideRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	provider, amount, err := req.validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	shares, err := s.lending.ProvideLiquidity(r.Context(), asset, provider, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshPool(r, asset)
	writeJSON(w, http.StatusOK, map[string]any{"lpSharesMinted": shares, "amount": amount})
}

func (s *Server) withdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	provider, shares, err := req.validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	returned, rewards, err := s.lending.WithdrawLiquidity(r.Context(), asset, provider, shares)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshPool(r, asset)
	writeJSON(w, http.StatusOK, map[string]any{"amountReturned": returned, "rewards": rewards, "lpSharesBurned": shares})
}

// collateralPrice prefers an explicit price and falls back to the feed.
func (s *Server) collateralPrice(r *http.Request, asset, explicit string) (decimal.Decimal, error) {
	if strings.TrimSpace(explicit) != "" {
		return positiveField("collateralPrice", explicit)
	}
	quote, err := s.lending.CollateralQuote(r.Context(), asset)
	if err != nil {
		return decimal.Zero, err
	}
	if quote.Stale {
		s.logger.Warn("stale collateral price", slog.String("asset", quote.Asset), slog.Time("observed", quote.Timestamp))
	}
	return quote.Price, nil
}

func (s *Server) loanTerms(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := positiveField("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := s.collateralPrice(r, chi.URLParam(r, "asset"), req.CollateralPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	terms, err := s.lending.LoanTerms(amount, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTermsView(terms, price))
}

func (s *Server) originateLoan(w http.ResponseWriter, r *http.Request) {
	var req originateRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	borrower, err := requireField("borrower", req.Borrower)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := positiveField("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	price, err := s.collateralPrice(r, asset, req.CollateralPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loan, err := s.lending.OriginateLoan(r.Context(), asset, borrower, amount, price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshPool(r, asset)
	writeJSON(w, http.StatusCreated, newLoanView(loan))
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	health, err := s.lending.LoanDetails(r.Context(), chi.URLParam(r, "asset"), chi.URLParam(r, "borrower"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHealthView(health))
}

func (s *Server) repayLoan(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	repayment, err := s.lending.RepayLoan(r.Context(), asset, chi.URLParam(r, "borrower"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshPool(r, asset)
	writeJSON(w, http.StatusOK, map[string]any{
		"loan":               newLoanView(repayment.Loan),
		"collateralReleased": repayment.CollateralReleased,
		"interestPaid":       repayment.InterestPaid,
	})
}

func (s *Server) liquidateLoan(w http.ResponseWriter, r *http.Request) {
	if s.seizer == nil {
		s.fail(w, r, errNoSeizer)
		return
	}
	asset := chi.URLParam(r, "asset")
	result, err := s.lending.Liquidate(r.Context(), asset, chi.URLParam(r, "borrower"), s.seizer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.refreshPool(r, asset)
	writeJSON(w, http.StatusOK, map[string]any{
		"loan":         newLoanView(result.Loan),
		"healthFactor": result.HealthFactor,
		"recovered":    result.Recovered,
		"shortfall":    result.Shortfall,
	})
}

func (s *Server) scanHealth(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	scan, err := s.lending.ScanHealth(r.Context(), asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]healthView, 0, len(scan))
	atRisk := 0
	for _, h := range scan {
		if h.Band == lending.HealthAtRisk {
			atRisk++
		}
		out = append(out, newHealthView(h))
	}
	s.metrics.RecordAtRisk(asset, atRisk)
	writeJSON(w, http.StatusOK, map[string]any{"loans": out, "atRisk": atRisk})
}

func (s *Server) getPrice(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.fail(w, r, pricing.ErrUnknownAsset)
		return
	}
	quote, err := s.feed.CurrentPrice(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteView(quote))
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		s.fail(w, r, badRequest("price feed is not writable"))
		return
	}
	var req priceRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	price, err := positiveField("price", req.Price)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	if err := s.feed.SetPrice(asset, price, req.Timestamp); err != nil {
		s.fail(w, r, err)
		return
	}
	quote, err := s.feed.CurrentPrice(r.Context(), asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("price updated", slog.String("asset", quote.Asset), slog.String("price", quote.Price.String()))
	writeJSON(w, http.StatusOK, newQuoteView(quote))
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	if s.pauses == nil {
		s.fail(w, r, badRequest("pauses are not configurable"))
		return
	}
	var req pauseRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "module")))
	switch module {
	case "lending", "distribution":
	default:
		s.fail(w, r, badRequest("unknown module %q", module))
		return
	}
	s.pauses.Set(module, req.Paused)
	s.metrics.SetPause(module, req.Paused)
	s.logger.Warn("module pause toggled", slog.String("module", module), slog.Bool("paused", req.Paused))
	writeJSON(w, http.StatusOK, map[string]any{"module": module, "paused": req.Paused})
}

func (s *Server) createDistribution(w http.ResponseWriter, r *http.Request) {
	var req createDistributionRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	create, err := req.validate()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, created, err := s.distribution.CreateDistribution(r.Context(), create)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, newDistributionView(d))
}

func (s *Server) pendingDistributions(w http.ResponseWriter, r *http.Request) {
	pending, err := s.distribution.Pending(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]distributionView, 0, len(pending))
	for _, d := range pending {
		out = append(out, newDistributionView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributions": out})
}

func (s *Server) getDistribution(w http.ResponseWriter, r *http.Request) {
	summary, err := s.distribution.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryView(summary))
}

func (s *Server) validateDistribution(w http.ResponseWriter, r *http.Request) {
	report, err := s.distribution.ValidateDistribution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	errs, warnings := report.Errors, report.Warnings
	if errs == nil {
		errs = []string{}
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": report.Valid, "errors": errs, "warnings": warnings})
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeRequest(r, &req, true); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.BatchSize < 0 {
		s.fail(w, r, badRequest("batchSize must not be negative"))
		return
	}
	id := chi.URLParam(r, "id")
	if req.All {
		result, err := s.distribution.Run(r.Context(), id, req.BatchSize)
		s.writeBatch(w, r, "distribution run interrupted", result.BatchResult, result.Batches, err)
		return
	}
	result, err := s.distribution.ProcessBatch(r.Context(), id, req.BatchSize)
	s.writeBatch(w, r, "distribution batch interrupted", result, 0, err)
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	result, err := s.distribution.RetryFailed(r.Context(), chi.URLParam(r, "id"))
	s.writeBatch(w, r, "distribution retry interrupted", result, 0, err)
}

// writeBatch reports a batch outcome. Work already settled is returned with
// status 200 even when the call stopped early, flagged as interrupted.
func (s *Server) writeBatch(w http.ResponseWriter, r *http.Request, msg string, result distribution.BatchResult, batches int, err error) {
	if err != nil && result.Processed == 0 {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn(msg,
			slog.String("distribution_id", result.DistributionID),
			slog.Int("processed", result.Processed),
			slog.Int("remaining", result.Remaining),
			slog.Any("error", err))
	}
	writeJSON(w, http.StatusOK, newBatchView(result, batches, err))
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	id, holder := chi.URLParam(r, "id"), chi.URLParam(r, "holder")
	amount, err := s.distribution.Claim(r.Context(), id, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"distributionId": id, "holder": holder, "amount": amount})
}

func (s *Server) exportDistribution(w http.ResponseWriter, r *http.Request) {
	format, err := exports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, badRequest("%v", err))
		return
	}
	summary, err := s.distribution.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, checksum, err := format.Encode(exports.Rows(&summary, s.now()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filename := fmt.Sprintf("%s.%s", summary.Distribution.ID, format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	w.Header().Set("X-Checksum-SHA256", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) holderHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.distribution.HolderHistory(r.Context(), chi.URLParam(r, "holder"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]historyView, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyView{
			DistributionID: e.DistributionID,
			HarvestID:      e.HarvestID,
			GroveID:        e.GroveID,
			Asset:          e.Asset,
			Share:          e.Share,
			Claimed:        e.Claimed,
			ClaimedAt:      e.ClaimedAt,
			Failed:         e.Failed,
			CreatedAt:      e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

func (s *Server) holderEarnings(w http.ResponseWriter, r *http.Request) {
	earnings, err := s.distribution.HolderEarnings(r.Context(), chi.URLParam(r, "holder"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	byGrove := earnings.ByGrove
	if byGrove == nil {
		byGrove = map[string]decimal.Decimal{}
	}
	writeJSON(w, http.StatusOK, earningsView{
		Holder:        earnings.Holder,
		TotalEarned:   earnings.TotalEarned,
		TotalPending:  earnings.TotalPending,
		Distributions: earnings.Distributions,
		AverageShare:  earnings.AverageShare,
		ByGrove:       byGrove,
	})
}

func (s *Server) farmerBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.distribution.FarmerBalance(r.Context(), chi.URLParam(r, "grove"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, farmerBalanceView{
		GroveID:        balance.GroveID,
		Farmer:         balance.Farmer,
		TotalEarned:    balance.TotalEarned,
		TotalWithdrawn: balance.TotalWithdrawn,
		Available:      balance.Available,
	})
}

func (s *Server) farmerWithdraw(w http.ResponseWriter, r *http.Request) {
	var req farmerWithdrawRequest
	if err := decodeRequest(r, &req, false); err != nil {
		s.fail(w, r, err)
		return
	}
	farmer, err := requireField("farmer", req.Farmer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := positiveField("amount", req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	withdrawal, err := s.distribution.FarmerWithdraw(r.Context(), chi.URLParam(r, "grove"), farmer, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newWithdrawalView(withdrawal))
}

func (s *Server) farmerWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := s.distribution.FarmerWithdrawals(r.Context(), chi.URLParam(r, "farmer"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]withdrawalView, 0, len(list))
	for _, wd := range list {
		out = append(out, newWithdrawalView(wd))
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": out})
}
