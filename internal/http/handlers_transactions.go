package http

import (
	"log/slog"
	"net/http"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
	applog "tally/internal/log"
	"tally/internal/services"
)

type createTransactionRequest struct {
	Amount      core.Money `json:"amount"`
	Type        core.Type  `json:"type"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Date        core.Date  `json:"date"`
}

// transactionResponse adds the amount rendered in the user's currency,
// so clients never need their own formatting tables.
type transactionResponse struct {
	core.Transaction
	FormattedAmount string `json:"formattedAmount"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listTransactions(w, r)
	case http.MethodPost:
		s.createTransaction(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) createTransaction(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req createTransactionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := s.transactions.Create(r.Context(), userID, services.CreateTransactionInput{
		Amount:      req.Amount,
		Type:        req.Type,
		Category:    req.Category,
		Description: req.Description,
		Date:        req.Date,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	s.invalidateStats(userID)

	slog.InfoContext(r.Context(), "Transaction created",
		applog.FieldUserID, userID,
		applog.FieldTxID, tx.ID,
		applog.FieldTxType, tx.Type,
		applog.FieldAmount, tx.Amount.Cents)

	respondJSON(w, http.StatusCreated, tx)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	from, to, err := parseDateRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid date range")
		return
	}

	txs, err := s.transactions.List(r.Context(), userID, from, to)
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

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			Transaction:     tx,
			FormattedAmount: formatter.Format(tx.Amount),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransactionByID(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	id := pathSuffix(r, "/api/transactions/")
	if id == "" {
		respondError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tx, err := s.transactions.Get(r.Context(), userID, id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, tx)

	case http.MethodDelete:
		if err := s.transactions.Delete(r.Context(), userID, id); err != nil {
			writeDomainError(w, r, err)
			return
		}
		s.invalidateStats(userID)

		slog.InfoContext(r.Context(), "Transaction deleted",
			applog.FieldUserID, userID,
			applog.FieldTxID, id)

		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, "GET, DELETE")
	}
}

// parseDateRange reads from/to query params, defaulting to the current
// month so dashboards work with no parameters at all.
func parseDateRange(r *http.Request) (core.Date, core.Date, error) {
	now := time.Now().UTC()
	from := core.NewDate(now.Year(), int(now.Month()), 1)
	to := core.DateOf(now)

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := core.ParseDate(v)
		if err != nil {
			return core.Date{}, core.Date{}, err
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := core.ParseDate(v)
		if err != nil {
			return core.Date{}, core.Date{}, err
		}
		to = parsed
	}
	if from.After(to) {
		return core.Date{}, core.Date{}, core.ErrInvalidDate
	}
	return from, to, nil
}
