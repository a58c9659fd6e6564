package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/license"
	"gmflicense/internal/middleware"
	"gmflicense/internal/shared/testutil"
	"gmflicense/internal/storage/memory"
	"gmflicense/pkg/contracts/domain"
)

// =============================================================================
// Suite setup
// =============================================================================

type HandlersTestSuite struct {
	suite.Suite
	store  *memory.Store
	plans  []domain.Plan
	router chi.Router
}

func (suite *HandlersTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	suite.store = memory.New()
	suite.plans = testutil.Plans()
	for _, p := range suite.plans {
		suite.store.AddPlan(p)
	}

	svc := license.NewService(suite.store, nil, license.WithLogger(logger))
	validator := middleware.NewValidator()
	eh := apierrors.NewErrorHandler(logger, false)

	r := chi.NewRouter()
	r.Mount("/api/public", NewPublicHandler(svc, validator, eh, logger).Routes())
	r.Mount("/api/plugins", NewPluginHandler(svc, validator, eh, logger).Routes())
	r.Mount("/api/admin", NewAdminHandler(svc, validator, eh, logger).Routes())
	suite.router = r
}

func TestHandlersTestSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func (suite *HandlersTestSuite) addLicense(opts ...testutil.LicenseOption) domain.License {
	lic := testutil.NewLicense(suite.plans[0], opts...)
	suite.Require().NoError(suite.store.CreateLicense(context.Background(), &lic))
	return lic
}

func (suite *HandlersTestSuite) addPlugin(name, version string) domain.Plugin {
	p, v := testutil.NewPlugin(name, version)
	suite.store.AddPlugin(p)
	suite.store.AddPluginVersion(v)
	return p
}

func (suite *HandlersTestSuite) do(method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	suite.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		suite.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func licenseBody(key string) map[string]string {
	return map[string]string{"licenseKey": key, "machineId": "machine-1"}
}

// =============================================================================
// Public endpoints
// =============================================================================

func (suite *HandlersTestSuite) TestValidate() {
	lic := suite.addLicense(testutil.WithTokens(42))

	rec, body := suite.do(http.MethodPost, "/api/public/validate", licenseBody(lic.Key))

	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(true, body["isValid"])
	suite.Equal(domain.ProductBasic, body["type"])
	suite.Equal(float64(42), body["tokensRemaining"])
	suite.NotContains(body, "features")
	suite.Contains(body, "plugins")
}

func (suite *HandlersTestSuite) TestInfoAlwaysCarriesFeatures() {
	lic := suite.addLicense()

	rec, body := suite.do(http.MethodPost, "/api/public/info", licenseBody(lic.Key))

	suite.Equal(http.StatusOK, rec.Code)
	features, ok := body["features"].(map[string]interface{})
	suite.Require().True(ok)
	suite.Equal("email", features["support"])
}

func (suite *HandlersTestSuite) TestValidateErrors() {
	revoked := suite.addLicense(testutil.WithStatus(domain.LicenseStatusRevoked))
	expired := suite.addLicense(testutil.WithExpiration(time.Now().Add(-time.Hour)))

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed key", licenseBody("GMF-24-BSC-XYZ"), http.StatusBadRequest, license.CodeMalformedKey},
		{"unknown key", licenseBody(testutil.FixtureKey(domain.ProductBasic)), http.StatusNotFound, license.CodeNotFound},
		{"revoked", licenseBody(revoked.Key), http.StatusForbidden, license.CodeRevoked},
		{"expired", licenseBody(expired.Key), http.StatusForbidden, license.CodeExpired},
		{"missing machine", map[string]string{"licenseKey": revoked.Key}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			rec, body := suite.do(http.MethodPost, "/api/public/validate", tt.body)
			suite.Equal(tt.status, rec.Code)
			suite.Equal(float64(tt.status), body["status"])
			if tt.code != "" {
				suite.Equal(tt.code, body["error_code"])
			}
		})
	}

	suite.Equal(domain.LicenseStatusExpired, suite.storedStatus(expired.Key), "validation applies lazy expiry")
}

func (suite *HandlersTestSuite) storedStatus(key string) domain.LicenseStatus {
	lic, err := suite.store.GetLicenseByKey(context.Background(), key)
	suite.Require().NoError(err)
	return lic.Status
}

func (suite *HandlersTestSuite) TestHeartbeat() {
	lic := suite.addLicense()

	rec, body := suite.do(http.MethodPost, "/api/public/heartbeat", licenseBody(lic.Key))

	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal("ok", body["status"])
}

func (suite *HandlersTestSuite) TestConsumeToken() {
	lic := suite.addLicense(testutil.WithTokens(10))
	consume := func(n int64) (*httptest.ResponseRecorder, map[string]interface{}) {
		return suite.do(http.MethodPost, "/api/public/consume-token", map[string]interface{}{
			"licenseKey": lic.Key,
			"machineId":  "machine-1",
			"tokens":     n,
			"reason":     "export",
		})
	}

	rec, body := consume(4)
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(float64(4), body["tokensConsumed"])
	suite.Equal(float64(6), body["tokensRemaining"])

	rec, body = consume(9)
	suite.Equal(http.StatusPaymentRequired, rec.Code)
	suite.Equal(license.CodeInsufficientTokens, body["error_code"])
	suite.Equal(float64(6), body["available"])
	suite.Equal(float64(9), body["requested"])

	rec, _ = consume(0)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Plugin endpoints
// =============================================================================

func (suite *HandlersTestSuite) TestPluginActivationAndStatus() {
	lic := suite.addLicense()
	plugin := suite.addPlugin("reporting", "1.2.0")

	statusPath := "/api/plugins/status/" + lic.Key + "/" + plugin.ID

	rec, body := suite.do(http.MethodGet, statusPath, nil)
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(false, body["isActive"])

	rec, body = suite.do(http.MethodPost, "/api/plugins/activate", map[string]string{"licenseKey": lic.Key, "pluginId": plugin.ID})
	suite.Equal(http.StatusCreated, rec.Code)
	suite.Equal("1.2.0", body["version"])
	suite.Equal(lic.ID, body["licenseId"])

	rec, body = suite.do(http.MethodPost, "/api/plugins/activate", map[string]string{"licenseKey": lic.Key, "pluginId": plugin.ID})
	suite.Equal(http.StatusConflict, rec.Code)
	suite.Equal(license.CodeAlreadyEntitled, body["error_code"])

	rec, body = suite.do(http.MethodGet, statusPath, nil)
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(true, body["isActive"])
	suite.Equal("1.2.0", body["version"])

	rec, _ = suite.do(http.MethodPost, "/api/plugins/activate", map[string]string{"licenseKey": lic.Key, "pluginId": "missing"})
	suite.Equal(http.StatusNotFound, rec.Code)
}

// =============================================================================
// Admin endpoints
// =============================================================================

func (suite *HandlersTestSuite) TestGenerateAndList() {
	expiration := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	rec, body := suite.do(http.MethodPost, "/api/admin/licenses", map[string]interface{}{
		"planId":         "plan-pro",
		"expirationDate": expiration,
		"metadata":       map[string]string{"order": "A-1"},
	})
	suite.Require().Equal(http.StatusCreated, rec.Code)
	key, _ := body["licenseKey"].(string)
	suite.True(license.IsValidKey(key))
	suite.Equal(float64(500), body["tokensRemaining"])

	rec, _ = suite.do(http.MethodPost, "/api/admin/licenses", map[string]interface{}{
		"planId":         "plan-none",
		"expirationDate": expiration,
	})
	suite.Equal(http.StatusNotFound, rec.Code)

	suite.addLicense(testutil.WithStatus(domain.LicenseStatusRevoked))

	rec, body = suite.do(http.MethodGet, "/api/admin/licenses?status=ACTIVE&limit=5", nil)
	suite.Equal(http.StatusOK, rec.Code)
	items, _ := body["items"].([]interface{})
	suite.Len(items, 1)
	pagination, _ := body["pagination"].(map[string]interface{})
	suite.Equal(float64(1), pagination["total"])
	suite.Equal(float64(5), pagination["limit"])

	rec, _ = suite.do(http.MethodGet, "/api/admin/licenses?status=PAUSED", nil)
	suite.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = suite.do(http.MethodGet, "/api/admin/licenses?limit=1000", nil)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

func (suite *HandlersTestSuite) TestRevokeFlow() {
	lic := suite.addLicense()
	revokePath := "/api/admin/licenses/" + lic.Key + "/revoke"

	rec, body := suite.do(http.MethodPost, revokePath, map[string]string{"reason": "chargeback"})
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(string(domain.LicenseStatusRevoked), body["status"])

	rec, body = suite.do(http.MethodPost, "/api/public/validate", licenseBody(lic.Key))
	suite.Equal(http.StatusForbidden, rec.Code)
	suite.Equal(license.CodeRevoked, body["error_code"])

	rec, body = suite.do(http.MethodPost, revokePath, nil)
	suite.Equal(http.StatusForbidden, rec.Code)
	suite.Equal(license.CodeInvalidState, body["error_code"])

	rec, body = suite.do(http.MethodGet, "/api/admin/licenses/"+lic.Key+"/history", nil)
	suite.Equal(http.StatusOK, rec.Code)
	events, _ := body["events"].([]interface{})
	suite.Require().NotEmpty(events)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.(map[string]interface{})["action"].(string))
	}
	suite.Contains(actions, string(domain.UsageRevoke))

	rec, body = suite.do(http.MethodGet, "/api/admin/licenses/"+lic.Key, nil)
	suite.Equal(http.StatusOK, rec.Code)
	suite.Equal(lic.ID, body["id"])
}

func (suite *HandlersTestSuite) TestFreeTrial() {
	req := map[string]interface{}{
		"email":        "ada@example.com",
		"name":         "Ada",
		"planId":       "plan-basic",
		"durationDays": 7,
	}

	rec, body := suite.do(http.MethodPost, "/api/admin/licenses/free-trial", req)
	suite.Require().Equal(http.StatusCreated, rec.Code)
	suite.Equal(float64(7), body["durationDays"])
	suite.Equal(float64(100), body["tokens"])

	rec, body = suite.do(http.MethodPost, "/api/admin/licenses/free-trial", req)
	suite.Equal(http.StatusConflict, rec.Code)
	suite.Equal(license.CodeAlreadyEntitled, body["error_code"])

	req["email"] = "not-an-email"
	rec, _ = suite.do(http.MethodPost, "/api/admin/licenses/free-trial", req)
	suite.Equal(http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Health
// =============================================================================

type stubChecker struct {
	storeErr, cacheErr error
}

func (s stubChecker) Ping(context.Context) (error, error) {
	return s.storeErr, s.cacheErr
}

func TestReadinessCheck(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		checker stubChecker
		status  int
		overall string
	}{
		{"healthy", stubChecker{}, http.StatusOK, StatusHealthy},
		{"cache down", stubChecker{cacheErr: errors.New("redis down")}, http.StatusOK, StatusDegraded},
		{"store down", stubChecker{storeErr: errors.New("db down")}, http.StatusServiceUnavailable, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, logger)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.overall, body["status"])
		})
	}
}

func TestLivenessAndVersion(t *testing.T) {
	h := NewHealthHandler(stubChecker{storeErr: errors.New("ignored")}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), StatusAlive)

	rec = httptest.NewRecorder()
	h.Version(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_version")
}
