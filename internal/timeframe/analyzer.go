// Package timeframe derives synthetic timeframes from a single price series
// and scores how well their trends agree.
package timeframe

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"tradebot-core/internal/indicators"
)

// Trend is the direction of one synthetic timeframe.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Alignment summarizes directional agreement across timeframes.
type Alignment string

const (
	AlignmentStrongBullish Alignment = "strong_bullish"
	AlignmentBullish       Alignment = "bullish"
	AlignmentStrongBearish Alignment = "strong_bearish"
	AlignmentBearish       Alignment = "bearish"
	AlignmentMixed         Alignment = "mixed"
	AlignmentNone          Alignment = "none"
)

const (
	// MinPoints is the shortest input series that is analyzed at all.
	MinPoints = 50

	frameSamples    = 20
	minFrameSamples = 10
	trendThreshold  = 2.0
	maxStrength     = 10.0
)

// Frame describes one synthetic timeframe.
type Frame struct {
	Name     string  `json:"name"`
	Stride   int     `json:"stride"`
	Trend    Trend   `json:"trend"`
	Strength float64 `json:"strength"`
	RSI      float64 `json:"rsi"`
	Valid    bool    `json:"valid"`
}

// Analysis is the multi-timeframe verdict for a series.
type Analysis struct {
	Frames    []Frame   `json:"frames"`
	Alignment Alignment `json:"alignment"`
	Strength  float64   `json:"strength"`
}

// Recommendation is the action derived from an Analysis.
type Recommendation struct {
	Action     indicators.Action `json:"action"`
	Confidence float64           `json:"confidence"`
	Reasons    []string          `json:"reasons"`
}

var frames = []struct {
	name   string
	stride int
}{
	{"5m", 1},
	{"15m", 3},
	{"1h", 12},
	{"4h", 48},
}

// weights favor longer timeframes; truncated to the number of valid frames.
var weights = []float64{1, 1.5, 2, 3}

// Analyze samples prices (oldest to newest) at every configured stride and
// evaluates each sample independently.
func Analyze(prices []float64) Analysis {
	if len(prices) < MinPoints {
		return defaultAnalysis()
	}

	out := Analysis{Frames: make([]Frame, 0, len(frames))}
	for _, f := range frames {
		frame := analyzeFrame(sample(prices, f.stride, frameSamples))
		frame.Name = f.name
		frame.Stride = f.stride
		out.Frames = append(out.Frames, frame)
	}
	out.Alignment = Align(out.Frames)
	out.Strength = OverallStrength(out.Frames)
	return out
}

// sample returns up to n points taken every stride steps back from the
// newest one, in chronological order.
func sample(prices []float64, stride, n int) []float64 {
	if stride <= 0 {
		stride = 1
	}
	picked := make([]float64, 0, n)
	for i := len(prices) - 1; i >= 0 && len(picked) < n; i -= stride {
		picked = append(picked, prices[i])
	}
	for l, r := 0, len(picked)-1; l < r; l, r = l+1, r-1 {
		picked[l], picked[r] = picked[r], picked[l]
	}
	return picked
}

func analyzeFrame(prices []float64) Frame {
	if len(prices) < minFrameSamples {
		return Frame{Trend: TrendNeutral, RSI: indicators.RSINeutral}
	}

	rsi := indicators.RSI(prices, min(indicators.RSIPeriod, len(prices)-1))

	var shortMA, longMA float64
	if len(prices) >= 20 {
		shortMA = indicators.Mean(prices[len(prices)-10:])
		longMA = indicators.Mean(prices[len(prices)-20:])
	} else {
		shortMA = indicators.Mean(prices[len(prices)-5:])
		longMA = indicators.Mean(prices)
	}

	diff := 0.0
	if longMA > 0 {
		diff = (shortMA - longMA) / longMA * 100
	}

	f := Frame{Trend: TrendNeutral, RSI: rsi, Valid: true}
	switch {
	case diff > trendThreshold:
		f.Trend = TrendBullish
		f.Strength = round2(math.Min(diff, maxStrength))
	case diff < -trendThreshold:
		f.Trend = TrendBearish
		f.Strength = round2(math.Min(-diff, maxStrength))
	}
	return f
}

// Align counts agreeing trends among valid frames. Three or more agreeing
// frames make a strong alignment, two a plain one; bullish wins ties.
func Align(frames []Frame) Alignment {
	valid, bullish, bearish := 0, 0, 0
	for _, f := range frames {
		if !f.Valid {
			continue
		}
		valid++
		switch f.Trend {
		case TrendBullish:
			bullish++
		case TrendBearish:
			bearish++
		}
	}

	switch {
	case valid == 0:
		return AlignmentNone
	case bullish >= 3:
		return AlignmentStrongBullish
	case bullish >= 2:
		return AlignmentBullish
	case bearish >= 3:
		return AlignmentStrongBearish
	case bearish >= 2:
		return AlignmentBearish
	default:
		return AlignmentMixed
	}
}

// OverallStrength is the weighted mean of signed frame strengths, bearish
// frames counting negative.
func OverallStrength(frames []Frame) float64 {
	var signed []float64
	for _, f := range frames {
		if !f.Valid || len(signed) >= len(weights) {
			continue
		}
		s := f.Strength
		if f.Trend == TrendBearish {
			s = -s
		}
		signed = append(signed, s)
	}
	if len(signed) == 0 {
		return 0
	}
	return round2(stat.Mean(signed, weights[:len(signed)]))
}

// Recommend turns an analysis into an action. hasPosition switches BUY to
// HOLD and AVOID to SELL.
func Recommend(a Analysis, hasPosition bool) Recommendation {
	bullAction, bearAction := indicators.ActionBuy, indicators.ActionAvoid
	if hasPosition {
		bullAction, bearAction = indicators.ActionHold, indicators.ActionSell
	}
	s := a.Strength

	switch {
	case a.Alignment == AlignmentStrongBullish && s > 3:
		return Recommendation{bullAction, math.Min(70+s*3, 95), []string{"All timeframes bullish"}}
	case a.Alignment == AlignmentStrongBearish && s < -3:
		return Recommendation{bearAction, math.Min(70-s*3, 95), []string{"All timeframes bearish"}}
	case a.Alignment == AlignmentBullish && s > 2:
		return Recommendation{bullAction, 60 + s*2, []string{"Multiple timeframes bullish"}}
	case a.Alignment == AlignmentBearish && s < -2:
		return Recommendation{bearAction, 60 - s*2, []string{"Multiple timeframes bearish"}}
	default:
		return Recommendation{indicators.ActionHold, 40, []string{"Mixed timeframe signals"}}
	}
}

func defaultAnalysis() Analysis {
	out := Analysis{Frames: make([]Frame, 0, len(frames)), Alignment: AlignmentNone}
	for _, f := range frames {
		out.Frames = append(out.Frames, Frame{
			Name:   f.name,
			Stride: f.stride,
			Trend:  TrendNeutral,
			RSI:    indicators.RSINeutral,
		})
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
