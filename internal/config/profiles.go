package config

import "fmt"

// ---------------------------------------------------------------------------
// Strategy profiles
// ---------------------------------------------------------------------------

// Profile names accepted by ApplyProfile.
const (
	ProfileAggressive   = "aggressive"
	ProfileBalanced     = "balanced"
	ProfileConservative = "conservative"
)

// ApplyProfile returns a copy of s with the named strategy profile applied.
// Only the keys a profile defines are overridden; everything else carries
// over from the base settings.
func ApplyProfile(s Settings, name string) (Settings, error) {
	switch name {
	case ProfileAggressive:
		s.TakeProfitLevels = []Level{
			{ThresholdPct: 15, SellPct: 25},
			{ThresholdPct: 30, SellPct: 25},
			{ThresholdPct: 60, SellPct: 25},
			{ThresholdPct: 100, SellPct: 100},
		}
		s.StopLossLevels = []Level{
			{ThresholdPct: -8, SellPct: 100},
		}
		s.TrailingStopPct = 8.0
		s.MomentumThresholdPct = 3.0
		s.DipThresholdPct = 10.0
		s.AIConfidence = 0.6
	case ProfileBalanced:
		d := DefaultSettings()
		s.TakeProfitLevels = d.TakeProfitLevels
		s.StopLossLevels = d.StopLossLevels
		s.TrailingStopPct = d.TrailingStopPct
		s.MomentumThresholdPct = d.MomentumThresholdPct
		s.DipThresholdPct = d.DipThresholdPct
		s.AIConfidence = d.AIConfidence
	case ProfileConservative:
		s.TakeProfitLevels = []Level{
			{ThresholdPct: 30, SellPct: 50},
			{ThresholdPct: 60, SellPct: 100},
		}
		s.StopLossLevels = []Level{
			{ThresholdPct: -3, SellPct: 50},
			{ThresholdPct: -6, SellPct: 100},
		}
		s.TrailingStopPct = 3.0
		s.MomentumThresholdPct = 8.0
		s.DipThresholdPct = 20.0
		s.AIConfidence = 0.85
	default:
		return s, fmt.Errorf("unknown strategy profile %q", name)
	}
	return s, nil
}
