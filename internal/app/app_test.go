package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pinkybot/tiergate/internal/config"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(apiURL string) *config.Config {
	return &config.Config{
		APIURL:          apiURL,
		StoreKind:       config.StoreMemory,
		ResolveInterval: time.Minute,
		RequestTimeout:  2 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  time.Second,
	}
}

func TestNewResolvesLicenseAfterActivation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/license/activate":
			_ = json.NewEncoder(w).Encode(map[string]any{"activated": true, "tier": "pro"})
		case r.URL.Path == "/api/license/status":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "active", "tier": "pro"})
		case strings.HasPrefix(r.URL.Path, "/api/subscription"):
			_ = json.NewEncoder(w).Encode(map[string]any{"active": false})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL), "test")
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, licensing.TierFree, a.Gate.Tier())

	tier, err := a.License.Activate(context.Background(), "PINKY-1234-5678")
	require.NoError(t, err)
	assert.Equal(t, licensing.TierPro, tier)

	d := a.Resolver.RefreshNow(context.Background())
	assert.Equal(t, licensing.TierPro, d.Tier)
	assert.Equal(t, licensing.SourceLicense, d.Source)
	assert.Equal(t, licensing.TierPro, a.Gate.Tier())
	assert.True(t, a.Gate.IsFeatureAllowed(licensing.FeatureAnalytics))
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cfg := testConfig("http://localhost:3000")
	cfg.StoreKind = "etcd"
	_, err := New(cfg, "")
	assert.Error(t, err)
}

func TestUpgradeURL(t *testing.T) {
	a, err := New(testConfig("http://localhost:3000"), "")
	require.NoError(t, err)
	defer a.Close()

	assert.Contains(t, a.UpgradeURL(licensing.FeatureTeam), "feature=team")
	assert.True(t, strings.HasPrefix(a.UpgradeURL(""), "https://"))

	a.Config.UpgradeURL = "https://example.test/buy"
	assert.Equal(t, "https://example.test/buy?feature=chat", a.UpgradeURL(licensing.FeatureChat))
}
