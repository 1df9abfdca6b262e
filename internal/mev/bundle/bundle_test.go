package bundle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mevengine/internal/mev/models"
)

func TestCalculateTip_ClampsBetweenBaseAndMax(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, cfg.BaseTipLamports, cfg.CalculateTip(0))           // no profit -> base
	require.Equal(t, cfg.BaseTipLamports, cfg.CalculateTip(-5_000_000)) // loss -> base
	require.Equal(t, uint64(5_000), cfg.CalculateTip(50_000))          // 10% of 50k = 5k > base
	require.Equal(t, cfg.MaxTipLamports, cfg.CalculateTip(10_000_000_000)) // capped at max
}

func newFakeBlockEngine(t *testing.T, statusSequence []string) *httptest.Server {
	t.Helper()
	call := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bundles", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		method, _ := body["method"].(string)

		if method == "sendBundle" {
			result := "bundle-123"
			_ = json.NewEncoder(w).Encode(sendBundleResponse{Result: &result})
			return
		}

		status := "Pending"
		if call < len(statusSequence) {
			status = statusSequence[call]
		}
		call++
		_ = json.NewEncoder(w).Encode(getStatusResponse{
			Result: &bundleStatusResult{BundleID: "bundle-123", Status: status},
		})
	})
	mux.HandleFunc("/api/v1/bundles/tip_accounts", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"TipAccount1", "TipAccount2"})
	})
	return httptest.NewServer(mux)
}

func TestSendBundle_ReturnsPendingImmediately(t *testing.T) {
	srv := newFakeBlockEngine(t, nil)
	defer srv.Close()

	sub := New(srv.URL, DefaultConfig(), zerolog.Nop(), nil)
	result, err := sub.SendBundle(context.Background(), []string{"tx1"}, 5000)
	require.NoError(t, err)
	require.Equal(t, models.BundlePending, result.Status)
}

func TestWaitForBundle_ReturnsOnTerminalState(t *testing.T) {
	srv := newFakeBlockEngine(t, []string{"Pending", "Landed"})
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	sub := New(srv.URL, cfg, zerolog.Nop(), nil)

	outcome, err := sub.WaitForBundle(context.Background(), "bundle-123", time.Second)
	require.NoError(t, err)
	require.False(t, outcome.TimedOut)
	require.Equal(t, models.BundleLanded, outcome.Status)
}

func TestWaitForBundle_TimesOutIsDistinctFromLanded(t *testing.T) {
	srv := newFakeBlockEngine(t, []string{"Pending", "Pending", "Pending", "Pending", "Pending"})
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	sub := New(srv.URL, cfg, zerolog.Nop(), nil)

	outcome, err := sub.WaitForBundle(context.Background(), "bundle-123", 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, outcome.TimedOut)
	require.Empty(t, outcome.Status)
}

func TestNextTipAccount_RoundRobinsAfterRefresh(t *testing.T) {
	srv := newFakeBlockEngine(t, nil)
	defer srv.Close()

	sub := New(srv.URL, DefaultConfig(), zerolog.Nop(), nil)
	require.NoError(t, sub.RefreshTipAccounts(context.Background()))

	first, ok := sub.NextTipAccount()
	require.True(t, ok)
	second, ok := sub.NextTipAccount()
	require.True(t, ok)
	third, ok := sub.NextTipAccount()
	require.True(t, ok)

	require.Equal(t, first, third) // wraps after 2 accounts
	require.NotEqual(t, first, second)
}

func TestNextTipAccount_FalseBeforeRefresh(t *testing.T) {
	sub := New("http://unused", DefaultConfig(), zerolog.Nop(), nil)
	_, ok := sub.NextTipAccount()
	require.False(t, ok)
}
