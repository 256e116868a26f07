package bootstrap

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainintel/internal/adapters/config"
	"chainintel/internal/domain/notification"
	"chainintel/internal/domain/risk"
	riskservice "chainintel/internal/services/risk"
	"chainintel/pkg/errors"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		LargeTransferThresholds: map[int64]string{1: "100", 56: "1000"},
		FlowWeight:              1.0,
		BehaviorWeight:          0.3,
		AssociationWeight:       0.25,
		HistoricalWeight:        0.15,
		FrequentTxCount:         10,
		IrregularCount:          5,
		IrregularWindow:         10 * time.Minute,
		NewAccountAge:           24 * time.Hour,
		DormantAge:              180 * 24 * time.Hour,
		RiskNeighborRatio:       0.3,
	}
}

func TestProvideRuleSet_OverlaysConfig(t *testing.T) {
	rules, err := provideRuleSet(testRiskConfig())
	require.NoError(t, err)

	assert.Equal(t, 1.0, rules.DimensionWeights[risk.DimensionFlow])
	assert.True(t, rules.LargeTransferThresholds[1].Equal(decimal.NewFromInt(100).Mul(riskservice.WeiPerNative)))
	assert.True(t, rules.LargeTransferThresholds[56].Equal(decimal.NewFromInt(1000).Mul(riskservice.WeiPerNative)))
	_, ok := rules.LargeTransferThresholds[137]
	assert.False(t, ok, "chains absent from config have no threshold")

	// Untouched defaults survive
	assert.Len(t, rules.Combinations, 2)
	assert.Len(t, rules.Levels, 4)
}

func TestProvideRuleSet_RejectsBadValues(t *testing.T) {
	cfg := testRiskConfig()
	cfg.LargeTransferThresholds = map[int64]string{1: "lots"}
	_, err := provideRuleSet(cfg)
	assert.True(t, errors.IsValidation(err))

	cfg = testRiskConfig()
	cfg.BehaviorWeight = 1.5
	_, err = provideRuleSet(cfg)
	assert.True(t, errors.IsValidation(err))

	cfg = testRiskConfig()
	cfg.AIScoreWeight = -0.1
	_, err = provideRuleSet(cfg)
	assert.True(t, errors.IsValidation(err))
}

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		EmergencyScore:     90,
		EmergencyAmounts:   map[int64]string{1: "1000"},
		BatchWindow:        5 * time.Minute,
		BatchMinOperations: 3,
		BatchMaxOperations: 10,
		RateHigh:           time.Minute,
		RateMedium:         5 * time.Minute,
		RateLow:            15 * time.Minute,
	}
}

func TestRouterConfig_MapsRules(t *testing.T) {
	rules, err := config.ParseNotifyRules([]byte(`{
		"level_channels": {"high": ["Telegram", "email"], "LOW": ["discord"]},
		"receivers": [{
			"id": "desk",
			"chains": ["1"],
			"risk_levels": ["high"],
			"event_types": ["*"],
			"channels": {"email": "desk@example.com", "telegram": "42"}
		}]
	}`))
	require.NoError(t, err)

	cfg, err := routerConfig(testNotifyConfig(), rules)
	require.NoError(t, err)

	assert.Equal(t,
		[]notification.Channel{notification.ChannelTelegram, notification.ChannelEmail},
		cfg.LevelChannels[notification.BucketHigh])
	assert.Equal(t, []notification.Channel{notification.ChannelDiscord}, cfg.LevelChannels[notification.BucketLow])
	assert.NotContains(t, cfg.LevelChannels, notification.BucketMedium)

	require.Len(t, cfg.Receivers, 1)
	r := cfg.Receivers[0]
	assert.Equal(t, "desk", r.ID)
	assert.Equal(t, "desk@example.com", r.Targets[notification.ChannelEmail])
	assert.True(t, r.Matches(1, notification.BucketHigh, notification.EventTransfer))
	assert.False(t, r.Matches(56, notification.BucketHigh, notification.EventTransfer))

	assert.True(t, cfg.EmergencyAmounts[1].Equal(decimal.NewFromInt(1000).Mul(riskservice.WeiPerNative)))
	assert.Equal(t, 5*time.Minute, cfg.RateIntervals[notification.BucketMedium])
	assert.Equal(t, 3, cfg.BatchMin)
}

func TestRouterConfig_UnknownChannel(t *testing.T) {
	rules, err := config.ParseNotifyRules([]byte(`{"level_channels": {"HIGH": ["pager"]}, "receivers": []}`))
	require.NoError(t, err)

	_, err = routerConfig(testNotifyConfig(), rules)
	assert.True(t, errors.IsValidation(err))
}

func TestProvideRouterConfig_EmbeddedDefault(t *testing.T) {
	t.Setenv("TELEGRAM_ALERT_CHAT_ID", "-100")
	t.Setenv("DISCORD_WEBHOOK_URL", "")
	t.Setenv("ALERT_EMAIL_TO", "")
	t.Setenv("COMPLIANCE_EMAIL_TO", "")

	cfg, err := provideRouterConfig(testNotifyConfig())
	require.NoError(t, err)

	require.Len(t, cfg.Receivers, 2)
	assert.Equal(t, map[notification.Channel]string{notification.ChannelTelegram: "-100"}, cfg.Receivers[0].Targets)
	assert.Empty(t, cfg.Receivers[1].Targets)
	assert.Len(t, cfg.LevelChannels[notification.BucketHigh], 3)
}
