package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes func(e *echo.Echo)

func (r routes) RegisterRoutes(e *echo.Echo) { r(e) }

func newTestServer(t *testing.T, reg *prometheus.Registry, h Handler) *echo.Echo {
	t.Helper()
	return NewServer(h, WithMetrics("/metrics", reg, reg)).Echo()
}

func TestServerRecordsRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestServer(t, reg, routes(func(e *echo.Echo) {
		e.GET("/api/jobs/:id", func(c echo.Context) error {
			return SuccessResponse(c, c.Param("id"))
		})
	}))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	n, err := testutil.GatherAndCount(reg, "stockpulse_http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "both requests share one route series")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `route="/api/jobs/:id"`)
}

func TestServerRecoversPanics(t *testing.T) {
	e := newTestServer(t, prometheus.NewRegistry(), routes(func(e *echo.Echo) {
		e.GET("/boom", func(echo.Context) error { panic("boom") })
	}))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, ConflictError("trading halted")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_CONFLICT")

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, errors.New("db down")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

type limitRequest struct {
	Limit int    `query:"limit" default:"100" validate:"gte=1,lte=1000"`
	Kind  string `query:"kind" validate:"omitempty,oneof=buy sell"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()

	var ok limitRequest
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?kind=buy", nil), httptest.NewRecorder())
	assert.Nil(t, ReadAndValidateRequest(c, &ok))
	assert.Equal(t, 100, ok.Limit)

	var bad limitRequest
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?limit=5000&kind=hold", nil), httptest.NewRecorder())
	errs, isList := ReadAndValidateRequest(c, &bad).([]ValidationError)
	require.True(t, isList)
	require.Len(t, errs, 2)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
	assert.Equal(t, "ERR_ONEOF", errs[1].Code)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("slow down"))
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"X1"}`))
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))

	var out struct {
		OrderID string `json:"order_id"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    srv.URL,
		Body:   map[string]int{"qty": 1},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "X1", out.OrderID)

	err = c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: map[string][]string{"fail": {"1"}},
	}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Retryable())
	assert.True(t, strings.Contains(se.Body, "slow down"))
}
