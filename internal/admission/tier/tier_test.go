package tier

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookmarks/internal/ratelimit/models"
)

func TestDefaultTable(t *testing.T) {
	table := Default()

	tests := []struct {
		method, pattern string
		want            Classification
	}{
		{"GET", "/bookmarks/fetch-metadata", Classification{Tier: models.TierSensitive}},
		{"POST", "/tokens", Classification{Tier: models.TierSensitive}},
		{"DELETE", "/tokens/{id}", Classification{Tier: models.TierSensitive}},
		{"POST", "/consent", Classification{Tier: models.TierSensitive, ConsentExempt: true}},
		{"PATCH", "/users/me", Classification{Tier: models.TierSensitive, ConsentExempt: true}},
		{"GET", "/me", Classification{Tier: models.TierGeneral, ConsentExempt: true}},
		{"GET", "/bookmarks", Classification{Tier: models.TierGeneral}},
		{"get", "/bookmarks/fetch-metadata", Classification{Tier: models.TierSensitive}},
		// Method is part of the key.
		{"POST", "/bookmarks/fetch-metadata", Classification{Tier: models.TierGeneral}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Classify(tt.method, tt.pattern))
		})
	}
}

func TestNewRejectsInvalidRoutes(t *testing.T) {
	_, err := New([]Route{{Method: "GET", Pattern: "/x", Tier: "bulk"}})
	assert.Error(t, err)
	_, err = New([]Route{{Method: "", Pattern: "/x", Tier: models.TierGeneral}})
	assert.Error(t, err)
	_, err = New([]Route{{Method: "GET", Pattern: "x", Tier: models.TierGeneral}})
	assert.Error(t, err)
}

func TestLoadFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - method: POST
    pattern: /imports
    tier: sensitive
  - method: GET
    pattern: /me
    tier: general
    consent_exempt: false
`), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, models.TierSensitive, table.Classify("POST", "/imports").Tier)
	assert.False(t, table.Classify("GET", "/me").ConsentExempt, "file overrides default entry")
	assert.Equal(t, models.TierSensitive, table.Classify("POST", "/tokens").Tier)
	assert.Equal(t, len(DefaultRoutes())+1, table.Len())
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("routes: [{method: GET, pattern: /x, tier: bulk}]"), 0o600))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "unknown tier")
}

func TestClassifyRequestUsesRoutePattern(t *testing.T) {
	table := Default()
	var got Classification

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				got = table.ClassifyRequest(req)
				next.ServeHTTP(w, req)
			})
		})
		r.Delete("/tokens/{id}", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/tokens/8f1c", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.TierSensitive, got.Tier)
}

func TestClassifyRequestFallsBackToPath(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/bookmarks/fetch-metadata?url=x", nil)
	assert.Equal(t, models.TierSensitive, Default().ClassifyRequest(req).Tier)
}
