package http

import (
	"fmt"
	"net/http"
	"strconv"

	"tally/internal/auth"
	"tally/internal/core"
	"tally/internal/storage"
)

type balanceResponse struct {
	Income           core.Money `json:"income"`
	Expense          core.Money `json:"expense"`
	IncomeFormatted  string     `json:"incomeFormatted"`
	ExpenseFormatted string     `json:"expenseFormatted"`
	Currency         string     `json:"currency"`
}

func (s *Server) handleStatsBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	userID, _ := auth.UserID(r.Context())

	from, to, err := parseDateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date range")
		return
	}

	key := fmt.Sprintf("%s:balance:%s:%s", userID, from, to)
	if cached, ok := s.balanceCache.Get(key); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	balance, err := s.stats.Balance(r.Context(), userID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	settings, err := s.store.GetUserSettings(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	formatter, err := core.NewCurrencyFormatter(settings.Currency)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := balanceResponse{
		Income:           balance.Income,
		Expense:          balance.Expense,
		IncomeFormatted:  formatter.Format(balance.Income),
		ExpenseFormatted: formatter.Format(balance.Expense),
		Currency:         settings.Currency,
	}
	s.balanceCache.Set(key, resp)
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatsCategories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	userID, _ := auth.UserID(r.Context())

	from, to, err := parseDateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date range")
		return
	}

	key := fmt.Sprintf("%s:categories:%s:%s", userID, from, to)
	if cached, ok := s.categoryCache.Get(key); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	sums, err := s.stats.Categories(r.Context(), userID, from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.categoryCache.Set(key, sums)
	respondJSON(w, http.StatusOK, sums)
}

func (s *Server) handleStatsHistoricalData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	userID, _ := auth.UserID(r.Context())

	q := storage.HistoricalQuery{
		UserID:    userID,
		Timeframe: core.Timeframe(r.URL.Query().Get("timeframe")),
	}

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid year")
		return
	}
	q.Year = year

	if q.Timeframe == core.TimeframeMonth {
		month, err := strconv.Atoi(r.URL.Query().Get("month"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid month")
			return
		}
		q.Month = month
	}

	key := fmt.Sprintf("%s:history:%s:%d:%d", userID, q.Timeframe, q.Year, q.Month)
	if cached, ok := s.historyCache.Get(key); ok {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	buckets, err := s.stats.HistoricalData(r.Context(), q)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.historyCache.Set(key, buckets)
	respondJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleStatsHistoryPeriods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}
	userID, _ := auth.UserID(r.Context())

	years, err := s.stats.HistoryYears(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, years)
}
