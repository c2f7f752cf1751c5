package timeframe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-core/internal/indicators"
)

func frame(trend Trend, strength float64) Frame {
	return Frame{Trend: trend, Strength: strength, Valid: true}
}

func TestAlign(t *testing.T) {
	tests := []struct {
		name   string
		frames []Frame
		want   Alignment
	}{
		{"three bullish is strong", []Frame{frame(TrendBullish, 3), frame(TrendBullish, 3), frame(TrendBullish, 3), frame(TrendNeutral, 0)}, AlignmentStrongBullish},
		{"two bullish is plain", []Frame{frame(TrendBullish, 3), frame(TrendBullish, 3), frame(TrendNeutral, 0), frame(TrendNeutral, 0)}, AlignmentBullish},
		{"three bearish is strong", []Frame{frame(TrendBearish, 3), frame(TrendBearish, 3), frame(TrendBearish, 3), frame(TrendBullish, 3)}, AlignmentStrongBearish},
		{"two bearish is plain", []Frame{frame(TrendBearish, 3), frame(TrendBearish, 3), frame(TrendNeutral, 0)}, AlignmentBearish},
		{"bullish wins a two-two split", []Frame{frame(TrendBullish, 3), frame(TrendBullish, 3), frame(TrendBearish, 3), frame(TrendBearish, 3)}, AlignmentBullish},
		{"mixed", []Frame{frame(TrendBullish, 3), frame(TrendBearish, 3), frame(TrendNeutral, 0)}, AlignmentMixed},
		{"invalid frames are ignored", []Frame{frame(TrendBullish, 3), {Trend: TrendBullish}, {Trend: TrendBullish}}, AlignmentMixed},
		{"no valid frames", []Frame{{Trend: TrendBullish}, {}}, AlignmentNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Align(tt.frames))
		})
	}
}

func TestOverallStrengthWeightsValidFramesInOrder(t *testing.T) {
	frames := []Frame{frame(TrendBullish, 4), {Trend: TrendBullish, Strength: 9}, frame(TrendBearish, 2)}
	// (4*1 - 2*1.5) / 2.5
	assert.InDelta(t, 0.4, OverallStrength(frames), 1e-9)
	assert.Equal(t, 0.0, OverallStrength(nil))

	all := []Frame{frame(TrendBullish, 2), frame(TrendBullish, 2), frame(TrendBullish, 2), frame(TrendBullish, 2)}
	assert.InDelta(t, 2, OverallStrength(all), 1e-9)
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name        string
		alignment   Alignment
		strength    float64
		hasPosition bool
		action      indicators.Action
		confidence  float64
	}{
		{"strong bullish", AlignmentStrongBullish, 5, false, indicators.ActionBuy, 85},
		{"strong bullish holds with position", AlignmentStrongBullish, 5, true, indicators.ActionHold, 85},
		{"strong confidence capped", AlignmentStrongBullish, 10, false, indicators.ActionBuy, 95},
		{"strong alignment but weak strength", AlignmentStrongBullish, 2.5, false, indicators.ActionHold, 40},
		{"plain bullish", AlignmentBullish, 2.5, false, indicators.ActionBuy, 65},
		{"strong bearish avoids", AlignmentStrongBearish, -4, false, indicators.ActionAvoid, 82},
		{"strong bearish sells with position", AlignmentStrongBearish, -4, true, indicators.ActionSell, 82},
		{"plain bearish", AlignmentBearish, -3, true, indicators.ActionSell, 66},
		{"mixed", AlignmentMixed, 8, false, indicators.ActionHold, 40},
		{"none", AlignmentNone, 0, false, indicators.ActionHold, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Recommend(Analysis{Alignment: tt.alignment, Strength: tt.strength}, tt.hasPosition)
			assert.Equal(t, tt.action, rec.Action)
			assert.InDelta(t, tt.confidence, rec.Confidence, 1e-9)
			assert.NotEmpty(t, rec.Reasons)
		})
	}
}

func TestSample(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, []float64{1, 4, 7, 10}, sample(prices, 3, 20))
	assert.Equal(t, []float64{8, 9, 10}, sample(prices, 1, 3))
}

func TestAnalyzeFrame(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100
		if i >= 10 {
			prices[i] = 110
		}
	}
	f := analyzeFrame(prices)
	require.True(t, f.Valid)
	assert.Equal(t, TrendBullish, f.Trend)
	assert.InDelta(t, 4.76, f.Strength, 1e-9)

	short := analyzeFrame(prices[:9])
	assert.False(t, short.Valid)
	assert.Equal(t, indicators.RSINeutral, short.RSI)
}

func TestAnalyzeShortSeriesIsDefault(t *testing.T) {
	a := Analyze(make([]float64, MinPoints-1))
	assert.Equal(t, AlignmentNone, a.Alignment)
	assert.Equal(t, 0.0, a.Strength)
	require.Len(t, a.Frames, 4)
	for _, f := range a.Frames {
		assert.False(t, f.Valid)
	}
}

func TestAnalyzeSteadyRally(t *testing.T) {
	prices := make([]float64, 500)
	for i := range prices {
		prices[i] = 100 * math.Pow(1.01, float64(i))
	}
	a := Analyze(prices)
	require.Len(t, a.Frames, 4)
	for _, f := range a.Frames {
		assert.True(t, f.Valid, f.Name)
		assert.Equal(t, TrendBullish, f.Trend, f.Name)
	}
	assert.Equal(t, AlignmentStrongBullish, a.Alignment)
	assert.Greater(t, a.Strength, 3.0)

	rec := Recommend(a, false)
	assert.Equal(t, indicators.ActionBuy, rec.Action)
	assert.GreaterOrEqual(t, rec.Confidence, 79.0)
}
