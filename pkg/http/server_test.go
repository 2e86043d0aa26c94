package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listQuery struct {
	Limit int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
	Order string `query:"order" default:"asc" validate:"oneof=asc desc"`
}

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/list", func(c echo.Context) error {
		q := &listQuery{}
		if verr := ReadAndValidateRequest(c, q); verr != nil {
			return BadRequestResponse(c, verr)
		}
		return SuccessResponse(c, q)
	})
	e.GET("/api/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundErrorf("no item %d", 7))
	})
	e.GET("/api/broken", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("db down"))
	})
	e.GET("/api/panic", func(c echo.Context) error {
		panic("boom")
	})
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var r APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	return r
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	s := NewServer(routes{}, nil, WithMetricsPath(""))

	rec := serve(s, "/api/list")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]any)
	assert.EqualValues(t, 50, data["Limit"])
	assert.Equal(t, "asc", data["Order"])

	rec = serve(s, "/api/list?limit=900&order=up")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Data []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "ERR_LTE", body.Data[0].Code)
	assert.Equal(t, "Limit must be less than or equal to 500", body.Data[0].Message)
	assert.Equal(t, "ERR_ONEOF", body.Data[1].Code)
}

func TestReadAndValidateRequestKeepsExplicitZero(t *testing.T) {
	s := NewServer(routes{}, nil, WithMetricsPath(""))

	rec := serve(s, "/api/list?limit=0")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Data []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_GTE", body.Data[0].Code)
	assert.Equal(t, "Limit", body.Data[0].Field)
}

func TestAppErrorResponseUsesStatus(t *testing.T) {
	s := NewServer(routes{}, nil, WithMetricsPath(""))

	rec := serve(s, "/api/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode(t, rec).Status)

	rec = serve(s, "/api/broken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	s := NewServer(routes{}, nil, WithMetricsPath(""))
	rec := serve(s, "/api/panic")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthzAndMetricsPath(t *testing.T) {
	s := NewServer(nil, nil)
	assert.Equal(t, http.StatusOK, serve(s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(s, "/metrics").Code)

	off := NewServer(nil, nil, WithMetricsPath(""))
	assert.Equal(t, http.StatusNotFound, serve(off, "/metrics").Code)
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	s := NewServer(routes{}, nil, WithMetricsPath(""), WithRateLimit(1))

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		codes[serve(s, "/api/list").Code]++
	}
	assert.Positive(t, codes[http.StatusTooManyRequests])

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(s, "/healthz").Code)
	}
}

func TestAddr(t *testing.T) {
	s := NewServer(nil, nil, WithAddr("127.0.0.1", 9090))
	assert.Equal(t, "127.0.0.1:9090", s.Addr())
}
