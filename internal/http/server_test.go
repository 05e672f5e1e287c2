package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tally/internal/auth"
	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/services"
	"tally/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *auth.JWT, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), storage.SettingsDefaults{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	jwt := auth.NewJWT("test-secret", time.Hour)
	cfg := &config.Config{Port: "0", WriteRequestsPerMinute: 1000}
	srv := NewServer(cfg, store,
		services.NewTransactionService(store, nil),
		services.NewStatsService(store),
		jwt)
	t.Cleanup(func() { srv.cacheManager.Stop(); srv.rateLimiter.stop() })
	return srv, jwt, store
}

// signUp registers a user through the API and returns the session token.
func signUp(t *testing.T, srv *Server, email string) string {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":"hunter2secret"}`, email)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-up", strings.NewReader(body))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("sign-up status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty session token")
	}
	return resp.Token
}

func authedRequest(token, method, target string, body []byte) *http.Request {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func createCategory(t *testing.T, srv *Server, token, name string, catType core.Type) {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"icon":"🧾","type":%q}`, name, catType)
	rr := do(srv, authedRequest(token, http.MethodPost, "/api/categories", []byte(body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create category status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	srv, _, _ := newTestServer(t)
	signUp(t, srv, "ada@example.com")

	// Duplicate email
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/sign-up",
		strings.NewReader(`{"email":"ada@example.com","password":"hunter2secret"}`))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate sign-up status=%d", rr.Code)
	}

	// Correct credentials
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/sign-in",
		strings.NewReader(`{"email":"ada@example.com","password":"hunter2secret"}`))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign-in status=%d body=%s", rr.Code, rr.Body.String())
	}

	// Wrong password
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/auth/sign-in",
		strings.NewReader(`{"email":"ada@example.com","password":"wrong-password"}`))
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status=%d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// No credentials at all redirects to sign-in.
	rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("unauthenticated status=%d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != auth.SignInPath {
		t.Fatalf("redirect location=%q", loc)
	}

	// A bad token is rejected outright.
	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = do(srv, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", rr.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")
	createCategory(t, srv, token, "Salary", core.Income)

	body := []byte(`{"amount":"1250.00","type":"income","category":"Salary","description":"August pay","date":"2024-08-30"}`)
	rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions", body))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	var created core.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if created.ID == "" || created.Amount.Cents != 125000 {
		t.Fatalf("unexpected transaction %+v", created)
	}

	// List covers the transaction's month.
	rr = do(srv, authedRequest(token, http.MethodGet, "/api/transactions?from=2024-08-01&to=2024-08-31", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var listed []transactionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected list %+v", listed)
	}
	if listed[0].FormattedAmount == "" {
		t.Fatal("missing formatted amount")
	}

	// Fetch by ID, then delete.
	rr = do(srv, authedRequest(token, http.MethodGet, "/api/transactions/"+created.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(token, http.MethodDelete, "/api/transactions/"+created.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(token, http.MethodDelete, "/api/transactions/"+created.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestCreateTransactionValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")
	createCategory(t, srv, token, "Groceries", core.Expense)

	cases := []struct {
		name string
		body string
	}{
		{"bad type", `{"amount":"10.00","type":"transfer","category":"Groceries","date":"2024-08-30"}`},
		{"zero amount", `{"amount":"0","type":"expense","category":"Groceries","date":"2024-08-30"}`},
		{"missing category", `{"amount":"10.00","type":"expense","category":"","date":"2024-08-30"}`},
		{"unknown field", `{"amount":"10.00","type":"expense","category":"Groceries","date":"2024-08-30","color":"red"}`},
	}
	for _, tc := range cases {
		rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions", []byte(tc.body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, rr.Code, rr.Body.String())
		}
	}

	// Unknown category is a 404: the ledger refuses to snapshot an icon
	// it has never seen.
	rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions",
		[]byte(`{"amount":"10.00","type":"expense","category":"Ghost","date":"2024-08-30"}`)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown category status=%d", rr.Code)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")
	createCategory(t, srv, token, "Salary", core.Income)
	createCategory(t, srv, token, "Groceries", core.Expense)

	// Duplicate
	rr := do(srv, authedRequest(token, http.MethodPost, "/api/categories",
		[]byte(`{"name":"Salary","icon":"💰","type":"income"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate category status=%d", rr.Code)
	}

	// Filtered list
	rr = do(srv, authedRequest(token, http.MethodGet, "/api/categories?type=expense", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var cats []core.Category
	if err := json.Unmarshal(rr.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode categories: %v", err)
	}
	if len(cats) != 1 || cats[0].Name != "Groceries" {
		t.Fatalf("unexpected categories %+v", cats)
	}

	rr = do(srv, authedRequest(token, http.MethodGet, "/api/categories?type=loan", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status=%d", rr.Code)
	}

	// Delete, then delete again.
	rr = do(srv, authedRequest(token, http.MethodDelete, "/api/categories?name=Groceries&type=expense", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete category status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(token, http.MethodDelete, "/api/categories?name=Groceries&type=expense", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", rr.Code)
	}
}

func TestStatsBalanceReflectsWrites(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")
	createCategory(t, srv, token, "Salary", core.Income)

	balance := func() balanceResponse {
		rr := do(srv, authedRequest(token, http.MethodGet, "/api/stats/balance?from=2024-08-01&to=2024-08-31", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("balance status=%d body=%s", rr.Code, rr.Body.String())
		}
		var resp balanceResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode balance: %v", err)
		}
		return resp
	}

	if got := balance(); got.Income.Cents != 0 {
		t.Fatalf("initial income=%d", got.Income.Cents)
	}

	rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions",
		[]byte(`{"amount":"100.00","type":"income","category":"Salary","date":"2024-08-15"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}

	// The write must have evicted the cached zero balance.
	got := balance()
	if got.Income.Cents != 10000 {
		t.Fatalf("income after create=%d", got.Income.Cents)
	}
	if got.Currency != "USD" || got.IncomeFormatted == "" {
		t.Fatalf("unexpected formatting %+v", got)
	}
}

func TestStatsHistoricalData(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")
	createCategory(t, srv, token, "Salary", core.Income)

	rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions",
		[]byte(`{"amount":"42.00","type":"income","category":"Salary","date":"2024-02-10"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}

	rr = do(srv, authedRequest(token, http.MethodGet, "/api/stats/historical-data?timeframe=month&year=2024&month=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("historical status=%d body=%s", rr.Code, rr.Body.String())
	}
	var buckets []core.HistoryBucket
	if err := json.Unmarshal(rr.Body.Bytes(), &buckets); err != nil {
		t.Fatalf("decode buckets: %v", err)
	}
	if len(buckets) != 29 { // Feb 2024 is a leap month
		t.Fatalf("bucket count=%d", len(buckets))
	}
	if buckets[9].Income.Cents != 4200 {
		t.Fatalf("day 10 income=%d", buckets[9].Income.Cents)
	}

	rr = do(srv, authedRequest(token, http.MethodGet, "/api/stats/historical-data?timeframe=week&year=2024", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad timeframe status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(token, http.MethodGet, "/api/stats/historical-data?timeframe=year", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing year status=%d", rr.Code)
	}

	rr = do(srv, authedRequest(token, http.MethodGet, "/api/stats/history-periods", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("history-periods status=%d", rr.Code)
	}
	var years []int
	if err := json.Unmarshal(rr.Body.Bytes(), &years); err != nil {
		t.Fatalf("decode years: %v", err)
	}
	if len(years) != 1 || years[0] != 2024 {
		t.Fatalf("years=%v", years)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	token := signUp(t, srv, "ada@example.com")

	rr := do(srv, authedRequest(token, http.MethodGet, "/api/settings", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get settings status=%d", rr.Code)
	}
	var settings core.UserSettings
	if err := json.Unmarshal(rr.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.Currency != "USD" {
		t.Fatalf("default currency=%q", settings.Currency)
	}

	rr = do(srv, authedRequest(token, http.MethodPut, "/api/settings",
		[]byte(`{"currency":"EUR","timezone":"Europe/Rome"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("update settings status=%d body=%s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if settings.Currency != "EUR" || settings.Timezone != "Europe/Rome" {
		t.Fatalf("unexpected settings %+v", settings)
	}

	rr = do(srv, authedRequest(token, http.MethodPut, "/api/settings",
		[]byte(`{"currency":"DOGE","timezone":"UTC"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad currency status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(token, http.MethodPut, "/api/settings",
		[]byte(`{"currency":"EUR","timezone":"Mars/Olympus"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad timezone status=%d", rr.Code)
	}
}

func TestWriteRateLimit(t *testing.T) {
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), storage.SettingsDefaults{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	jwt := auth.NewJWT("test-secret", time.Hour)
	cfg := &config.Config{Port: "0", WriteRequestsPerMinute: 2}
	srv := NewServer(cfg, store,
		services.NewTransactionService(store, nil),
		services.NewStatsService(store),
		jwt)
	t.Cleanup(func() { srv.cacheManager.Stop(); srv.rateLimiter.stop() })

	token := signUp(t, srv, "ada@example.com") // first write
	createCategory(t, srv, token, "Salary", core.Income)

	rr := do(srv, authedRequest(token, http.MethodPost, "/api/transactions",
		[]byte(`{"amount":"10.00","type":"income","category":"Salary","date":"2024-08-30"}`)))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// Reads are never limited.
	rr = do(srv, authedRequest(token, http.MethodGet, "/api/transactions", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("read while limited status=%d", rr.Code)
	}
}

func TestUserIsolation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ada := signUp(t, srv, "ada@example.com")
	bob := signUp(t, srv, "bob@example.com")
	createCategory(t, srv, ada, "Salary", core.Income)

	rr := do(srv, authedRequest(ada, http.MethodPost, "/api/transactions",
		[]byte(`{"amount":"10.00","type":"income","category":"Salary","date":"2024-08-30"}`)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rr.Code)
	}
	var created core.Transaction
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rr = do(srv, authedRequest(bob, http.MethodGet, "/api/transactions/"+created.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-user get status=%d", rr.Code)
	}
	rr = do(srv, authedRequest(bob, http.MethodDelete, "/api/transactions/"+created.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-user delete status=%d", rr.Code)
	}
}
