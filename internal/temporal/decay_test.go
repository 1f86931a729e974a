package temporal

import (
	"math"
	"testing"
	"time"
)

func TestExponentialDecayIsInverseEAtOneHalfLife(t *testing.T) {
	got, err := exponentialDecay(168*time.Hour, 168*time.Hour)
	if err != nil {
		t.Fatalf("exponentialDecay: %v", err)
	}
	if math.Abs(got-math.Exp(-1)) > 0.01 {
		t.Fatalf("expected ~exp(-1) at one half-life, got %f", got)
	}
}

func TestExponentialDecayRejectsNonPositiveHalfLife(t *testing.T) {
	if _, err := exponentialDecay(time.Hour, 0); err == nil {
		t.Fatal("expected error for zero half-life")
	}
	if _, err := exponentialDecay(time.Hour, -time.Hour); err == nil {
		t.Fatal("expected error for negative half-life")
	}
}

func TestRelevanceClampedToUnitInterval(t *testing.T) {
	eng := NewEngine()
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	got, err := eng.Relevance(KindCode, now.Add(-time.Hour), now, nil, nil, nil)
	if err != nil {
		t.Fatalf("Relevance: %v", err)
	}
	if got < 0 || got > 1 {
		t.Fatalf("expected value in [0,1], got %f", got)
	}

	// Future-dated content clamps age to zero, so relevance should be
	// at or near the maximum (no seasonal/tz/adaptive adjustment).
	future, err := eng.Relevance(KindCode, now.Add(time.Hour), now, nil, nil, nil)
	if err != nil {
		t.Fatalf("Relevance (future): %v", err)
	}
	if math.Abs(future-1.0) > 1e-9 {
		t.Fatalf("expected 1.0 for future-dated content, got %f", future)
	}
}

func TestRelevanceUnknownKindErrors(t *testing.T) {
	eng := NewEngineWithFunctions(nil)
	delete(eng.functions, ContentKind("made-up"))

	_, err := eng.Relevance(ContentKind("made-up"), time.Now(), time.Now(), nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for unconfigured content kind")
	}
}

func TestPatternDecayStableThenCyclical(t *testing.T) {
	stable := 90 * 24 * time.Hour
	cycle := 30 * 24 * time.Hour

	atStart := patternDecay(0, stable, cycle)
	if math.Abs(atStart-1.0) > 1e-9 {
		t.Fatalf("expected 1.0 at age 0, got %f", atStart)
	}

	midStable := patternDecay(stable/2, stable, cycle)
	if midStable >= atStart || midStable <= 0.9 {
		t.Fatalf("expected slight decline within stable period, got %f", midStable)
	}

	pastStable := patternDecay(stable+cycle, stable, cycle)
	atStableEdge := patternDecay(stable, stable, cycle)
	if pastStable >= atStableEdge {
		t.Fatalf("expected decay to continue past stable period: edge=%f past=%f", atStableEdge, pastStable)
	}
}

func TestAdaptiveFactorIgnoresOldAccessHistory(t *testing.T) {
	cfg := AdaptiveDecay{
		BaseHalfLife:       30 * 24 * time.Hour,
		AccessBoostFactor:  0.1,
		MaxBoost:           0.5,
		RelevanceThreshold: 0.5,
	}
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)

	oldAccess := []ContentAccess{
		{AccessTime: now.Add(-60 * 24 * time.Hour), AccessType: AccessRead},
	}
	factor, err := adaptiveFactor(cfg, oldAccess, now)
	if err != nil {
		t.Fatalf("adaptiveFactor: %v", err)
	}
	if math.Abs(factor-1.0) > 1e-9 {
		t.Fatalf("expected access older than 30 days to be ignored, got factor %f", factor)
	}

	recentAccess := []ContentAccess{
		{AccessTime: now.Add(-1 * 24 * time.Hour), AccessType: AccessRead},
		{AccessTime: now.Add(-2 * 24 * time.Hour), AccessType: AccessRead},
	}
	boosted, err := adaptiveFactor(cfg, recentAccess, now)
	if err != nil {
		t.Fatalf("adaptiveFactor: %v", err)
	}
	if boosted <= 1.0 {
		t.Fatalf("expected recent access to boost factor above 1.0, got %f", boosted)
	}
}

func TestAdaptiveFactorCapsFrequencyBoost(t *testing.T) {
	cfg := AdaptiveDecay{
		BaseHalfLife:       30 * 24 * time.Hour,
		AccessBoostFactor:  0.5,
		MaxBoost:           0.5,
		RelevanceThreshold: 0.5,
	}
	now := time.Now()
	history := make([]ContentAccess, 20)
	for i := range history {
		history[i] = ContentAccess{AccessTime: now.Add(-time.Duration(i) * time.Hour), AccessType: AccessRead}
	}

	factor, err := adaptiveFactor(cfg, history, now)
	if err != nil {
		t.Fatalf("adaptiveFactor: %v", err)
	}
	if factor > 1.0+cfg.MaxBoost+1e-9 {
		t.Fatalf("expected frequency boost capped at %f, got factor %f", cfg.MaxBoost, factor-1.0)
	}
}

func TestTimezoneAdjustmentBusinessHours(t *testing.T) {
	tz := TimezoneContext{
		UserTimezone:       time.UTC,
		BusinessHoursStart: 9,
		BusinessHoursEnd:   17,
	}
	duringHours := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	outsideHours := time.Date(2026, 7, 31, 22, 0, 0, 0, time.UTC)

	if got := timezoneAdjustment(tz, duringHours); got != 1.2 {
		t.Fatalf("expected 1.2 during business hours, got %f", got)
	}
	if got := timezoneAdjustment(tz, outsideHours); got != 0.9 {
		t.Fatalf("expected 0.9 outside business hours, got %f", got)
	}
}

func TestSeasonalMultiplierAppliesOnlyOnMatch(t *testing.T) {
	period := SeasonalPeriod{Kind: SeasonalWeekly, Weekday: time.Friday, Multiplier: 1.5}
	friday := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) // a Friday
	saturday := friday.Add(24 * time.Hour)

	if got := seasonalMultiplier(period, friday); got != 1.5 {
		t.Fatalf("expected multiplier applied on matching weekday, got %f", got)
	}
	if got := seasonalMultiplier(period, saturday); got != 1.0 {
		t.Fatalf("expected no multiplier on non-matching weekday, got %f", got)
	}
}
