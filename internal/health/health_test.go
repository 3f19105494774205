package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestChecker_StoreUpAndDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", PingCheck(fakePinger{}))
	assert.True(t, c.IsReady(context.Background()))

	c.Register("store", PingCheck(fakePinger{err: errors.New("database is closed")}))
	report := c.Check(context.Background())
	assert.False(t, report.Ready())
	assert.Equal(t, StatusDown, report.Checks["store"])
}

func TestChecker_DegradedStillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("github_auth", DegradedUnless(false))
	report := c.Check(context.Background())
	assert.True(t, report.Ready())
	assert.Equal(t, StatusDegraded, report.Checks["github_auth"])

	c.Register("github_auth", DegradedUnless(true))
	assert.Equal(t, StatusOK, c.Check(context.Background()).Checks["github_auth"])
}

func TestChecker_NoChecks(t *testing.T) {
	assert.True(t, NewChecker(zerolog.Nop()).IsReady(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", PingCheck(fakePinger{}))

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"store":"ok"}}`, rr.Body.String())

	c.Register("store", PingCheck(fakePinger{err: errors.New("closed")}))
	rr = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}
