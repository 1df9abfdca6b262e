package httpapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestCheckBearerToken_NoConfiguredTokenAlwaysRejects(t *testing.T) {
	require.False(t, checkBearerToken("", "Bearer anything"))
	require.False(t, checkBearerToken("", ""))
}

func TestCheckBearerToken_MatchingTokenAccepts(t *testing.T) {
	require.True(t, checkBearerToken("secret-token", "Bearer secret-token"))
}

func TestCheckBearerToken_MismatchedTokenRejects(t *testing.T) {
	require.False(t, checkBearerToken("secret-token", "Bearer wrong-token"))
}

func TestCheckBearerToken_MissingHeaderRejects(t *testing.T) {
	require.False(t, checkBearerToken("secret-token", ""))
}

func TestCheckBearerToken_MalformedHeaderRejects(t *testing.T) {
	require.False(t, checkBearerToken("secret-token", "secret-token"))
	require.False(t, checkBearerToken("secret-token", "Basic secret-token"))
}

func TestValidateCustomRisk_AllFieldsWithinBoundsPasses(t *testing.T) {
	req := setCustomRiskRequest{
		MaxPositionSOL:         floatPtr(1.0),
		MaxConcurrentPositions: intPtr(5),
		DailyLossLimitSOL:      floatPtr(1.0),
		MaxDrawdownPercent:     floatPtr(10),
		TakeProfitPercent:      floatPtr(15),
		TrailingStopPercent:    floatPtr(8),
		TimeLimitMinutes:       intPtr(5),
	}
	require.Empty(t, validateCustomRisk(req))
}

func TestValidateCustomRisk_EmptyRequestPasses(t *testing.T) {
	require.Empty(t, validateCustomRisk(setCustomRiskRequest{}))
}

func TestValidateCustomRisk_RejectsOutOfRangeFields(t *testing.T) {
	cases := []struct {
		name string
		req  setCustomRiskRequest
	}{
		{"max_position_sol too low", setCustomRiskRequest{MaxPositionSOL: floatPtr(0.0001)}},
		{"max_position_sol too high", setCustomRiskRequest{MaxPositionSOL: floatPtr(10.1)}},
		{"max_concurrent_positions too low", setCustomRiskRequest{MaxConcurrentPositions: intPtr(0)}},
		{"max_concurrent_positions too high", setCustomRiskRequest{MaxConcurrentPositions: intPtr(51)}},
		{"daily_loss_limit_sol too low", setCustomRiskRequest{DailyLossLimitSOL: floatPtr(0.001)}},
		{"daily_loss_limit_sol too high", setCustomRiskRequest{DailyLossLimitSOL: floatPtr(100.1)}},
		{"max_drawdown_percent too low", setCustomRiskRequest{MaxDrawdownPercent: floatPtr(0)}},
		{"max_drawdown_percent too high", setCustomRiskRequest{MaxDrawdownPercent: floatPtr(101)}},
		{"take_profit_percent too low", setCustomRiskRequest{TakeProfitPercent: floatPtr(0)}},
		{"take_profit_percent too high", setCustomRiskRequest{TakeProfitPercent: floatPtr(201)}},
		{"trailing_stop_percent too high", setCustomRiskRequest{TrailingStopPercent: floatPtr(101)}},
		{"time_limit_minutes too low", setCustomRiskRequest{TimeLimitMinutes: intPtr(0)}},
		{"time_limit_minutes too high", setCustomRiskRequest{TimeLimitMinutes: intPtr(61)}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.NotEmpty(t, validateCustomRisk(c.req))
		})
	}
}

func TestValidateCustomRisk_TrailingStopZeroIsAllowed(t *testing.T) {
	req := setCustomRiskRequest{TrailingStopPercent: floatPtr(0)}
	require.Empty(t, validateCustomRisk(req))
}
