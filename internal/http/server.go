package http

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/cache"
	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/storage"
)

type Server struct {
	http.Server

	store        storage.Store
	transactions *services.TransactionService
	stats        *services.StatsService
	jwt          *auth.JWT

	rateLimiter *rateLimiter

	cacheManager  *cache.Manager
	balanceCache  *cache.LRUCache[balanceResponse]
	categoryCache *cache.LRUCache[[]core.CategorySum]
	historyCache  *cache.LRUCache[[]core.HistoryBucket]

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(cfg *config.Config, store storage.Store, transactions *services.TransactionService, stats *services.StatsService, jwt *auth.JWT) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    ":" + cfg.Port,
			Handler: mux,
		},
		store:         store,
		transactions:  transactions,
		stats:         stats,
		jwt:           jwt,
		rateLimiter:   newRateLimiter(cfg.WriteRequestsPerMinute),
		cacheManager:  cache.NewManager(),
		balanceCache:  cache.NewLRUCache[balanceResponse](500, 5*time.Minute),
		categoryCache: cache.NewLRUCache[[]core.CategorySum](500, 5*time.Minute),
		historyCache:  cache.NewLRUCache[[]core.HistoryBucket](1000, 5*time.Minute),
	}

	s.cacheManager.Register(s.balanceCache)
	s.cacheManager.Register(s.categoryCache)
	s.cacheManager.Register(s.historyCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	authed := auth.Middleware(jwt)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	mux.HandleFunc("/api/auth/sign-up", s.withCommon(s.handleSignUp))
	mux.HandleFunc("/api/auth/sign-in", s.withCommon(s.handleSignIn))
	mux.HandleFunc("/api/auth/sign-out", s.withCommon(s.handleSignOut))

	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withCommon(func(w http.ResponseWriter, r *http.Request) {
			authed(h).ServeHTTP(w, r)
		})
	}

	mux.HandleFunc("/api/categories", protected(s.handleCategories))
	mux.HandleFunc("/api/transactions", protected(s.handleTransactions))
	mux.HandleFunc("/api/transactions/", protected(s.handleTransactionByID))
	mux.HandleFunc("/api/stats/balance", protected(s.handleStatsBalance))
	mux.HandleFunc("/api/stats/categories", protected(s.handleStatsCategories))
	mux.HandleFunc("/api/stats/historical-data", protected(s.handleStatsHistoricalData))
	mux.HandleFunc("/api/stats/history-periods", protected(s.handleStatsHistoryPeriods))
	mux.HandleFunc("/api/settings", protected(s.handleSettings))

	return s
}

// invalidateStats drops every cached stats response for one user. Called on
// each ledger write so dashboards never serve stale aggregates.
func (s *Server) invalidateStats(userID string) {
	prefix := userID + ":"
	s.balanceCache.DeletePrefix(prefix)
	s.categoryCache.DeletePrefix(prefix)
	s.historyCache.DeletePrefix(prefix)
}

// Shutdown stops the background loops along with the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// pathSuffix returns the part of the URL path after prefix, trimmed of a
// trailing slash.
func pathSuffix(r *http.Request, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/")
}
