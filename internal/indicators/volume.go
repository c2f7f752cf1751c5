package indicators

// VolumeProfile compares recent traded volume with its trailing average.
type VolumeProfile struct {
	AvgVolume float64 `json:"avg_volume"`
	Ratio     float64 `json:"volume_ratio"`
	Trend     string  `json:"trend"` // increasing, decreasing, neutral
}

// Volume trend labels.
const (
	VolumeIncreasing = "increasing"
	VolumeDecreasing = "decreasing"
	VolumeNeutral    = "neutral"
)

// AnalyzeVolume takes the mean of the last five volumes against the window
// mean. Short histories report a neutral profile.
func AnalyzeVolume(volumes []float64, window int) VolumeProfile {
	if window <= 0 || len(volumes) < window {
		return VolumeProfile{AvgVolume: Mean(volumes), Ratio: 1, Trend: VolumeNeutral}
	}

	recentN := 5
	if recentN > len(volumes) {
		recentN = len(volumes)
	}
	recent := Mean(volumes[len(volumes)-recentN:])
	avg := Mean(volumes[len(volumes)-window:])

	ratio := 1.0
	if avg > 0 {
		ratio = recent / avg
	}

	trend := VolumeNeutral
	switch {
	case ratio > 1.5:
		trend = VolumeIncreasing
	case ratio < 0.7:
		trend = VolumeDecreasing
	}
	return VolumeProfile{AvgVolume: avg, Ratio: ratio, Trend: trend}
}
