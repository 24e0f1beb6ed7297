package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"heartbeat-backend/internal/domain"
)

type stubRanking struct {
	limit int
	err   error
}

func (s *stubRanking) GetRanking(_ context.Context, limit int) ([]domain.RankingEntry, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	return []domain.RankingEntry{{UserID: "a", DisplayName: "Аня", MaxConnections: 5, Rank: 1}}, nil
}

type stubRecorder struct {
	got domain.HeartbeatSample
}

func (s *stubRecorder) Record(_ context.Context, sample domain.HeartbeatSample) (bool, error) {
	if !sample.Valid() {
		return false, domain.ErrInvalidHeartbeat
	}
	s.got = sample
	return true, nil
}

type stubResync struct{ calls int }

func (s *stubResync) FullResync(context.Context) (int, error) {
	s.calls++
	return 3, nil
}

func newTestServer(ranking *stubRanking, rec *stubRecorder, resync *stubResync, onResync func()) *Server {
	srv := NewServer(zerolog.Nop(), Options{CORSAllowOrigins: []string{"*"}})
	h := &Handlers{
		Ranking:      ranking,
		Heartbeats:   rec,
		Resync:       resync,
		AdminToken:   "secret",
		DefaultLimit: 10,
		OnResync:     onResync,
		Log:          zerolog.Nop(),
	}
	h.Register(srv.Router)
	return srv
}

func TestGetRankingDefaultLimit(t *testing.T) {
	ranking := &stubRanking{}
	srv := newTestServer(ranking, &stubRecorder{}, &stubResync{}, nil)

	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ranking", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rr.Code)
	}
	if ranking.limit != 10 {
		t.Fatalf("ожидали лимит по умолчанию 10, получили %d", ranking.limit)
	}
	var body struct {
		Ranking []domain.RankingEntry `json:"ranking"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("не ожидали ошибку разбора: %v", err)
	}
	if len(body.Ranking) != 1 || body.Ranking[0].Rank != 1 {
		t.Fatalf("неожиданный ответ: %+v", body)
	}
}

func TestGetRankingBadLimit(t *testing.T) {
	srv := newTestServer(&stubRanking{}, &stubRecorder{}, &stubResync{}, nil)
	for _, q := range []string{"abc", "0", "-1"} {
		rr := httptest.NewRecorder()
		srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ranking?limit="+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: ожидали 400, получили %d", q, rr.Code)
		}
	}
}

func TestGetRankingUnavailable(t *testing.T) {
	srv := newTestServer(&stubRanking{err: errors.New("db down")}, &stubRecorder{}, &stubResync{}, nil)
	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/ranking?limit=5", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ожидали 503, получили %d", rr.Code)
	}
}

func TestPostHeartbeat(t *testing.T) {
	rec := &stubRecorder{}
	srv := newTestServer(&stubRanking{}, rec, &stubResync{}, nil)

	body := `{"user_id":"u1","bpm":72,"timestamp_millis":1700000000000}`
	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/heartbeats", strings.NewReader(body)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("ожидали 202, получили %d", rr.Code)
	}
	if rec.got.BPM != 72 || rec.got.UserID != "u1" {
		t.Fatalf("неожиданный пульс: %+v", rec.got)
	}
	if !strings.Contains(rr.Body.String(), `"trigger_armed":true`) {
		t.Fatalf("неожиданный ответ: %s", rr.Body.String())
	}
}

func TestPostHeartbeatValidation(t *testing.T) {
	srv := newTestServer(&stubRanking{}, &stubRecorder{}, &stubResync{}, nil)
	for _, body := range []string{`{"user_id":"u1"}`, `{"user_id":"u1","bpm":500}`, `not json`} {
		rr := httptest.NewRecorder()
		srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/heartbeats", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: ожидали 400, получили %d", body, rr.Code)
		}
	}
}

func TestResyncRequiresAdminToken(t *testing.T) {
	resync := &stubResync{}
	invalidated := false
	srv := newTestServer(&stubRanking{}, &stubRecorder{}, resync, func() { invalidated = true })

	cases := map[string]int{
		"":              http.StatusUnauthorized,
		"Bearer wrong":  http.StatusUnauthorized,
		"Basic secret":  http.StatusUnauthorized,
		"Bearer secret": http.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/ranking/resync", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		srv.Router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%q: ожидали %d, получили %d", header, want, rr.Code)
		}
	}
	if resync.calls != 1 || !invalidated {
		t.Fatalf("ожидали одну пересборку со сбросом кэша: calls=%d invalidated=%v", resync.calls, invalidated)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := AdminAuthMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("обработчик не должен вызываться")
	}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("ожидали 403, получили %d", rr.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("неожиданные коды: %v", codes)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("другой IP не должен ограничиваться, получили %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&stubRanking{}, &stubRecorder{}, &stubResync{}, nil)
	rr := httptest.NewRecorder()
	srv.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rr.Code)
	}
}
