// Package temporal implements the Decay & Temporal Engine (spec §2.1, §4.1):
// scoring content relevance over time with per-content-kind decay functions,
// adaptive access-history boosts, and timezone/seasonal adjustment.
//
// Grounded on crates/rhema-knowledge/src/temporal/decay.rs from the
// original Rust implementation: exponential decay for time-bounded kinds,
// pattern decay with a stable period followed by cyclical falloff, and an
// adaptive multiplier driven by recent access frequency and relevance.
package temporal

import (
	"math"
	"time"

	"github.com/rhema-core/rhema/internal/rherr"
)

// ContentKind mirrors the Content.kind values from spec §3.1.
type ContentKind string

const (
	KindCode          ContentKind = "code"
	KindDocumentation ContentKind = "documentation"
	KindConfiguration ContentKind = "configuration"
	KindKnowledge     ContentKind = "knowledge"
	KindDecision      ContentKind = "decision"
	KindPattern       ContentKind = "pattern"
	KindTodo          ContentKind = "todo"
	KindInsight       ContentKind = "insight"
	KindUnknown       ContentKind = "unknown"
)

// DecayFunction is a tagged union over the three decay shapes spec §3.2
// names: exponential, pattern-stable, and adaptive.
type DecayFunction struct {
	Exponential *ExponentialDecay
	Pattern     *PatternDecay
	Adaptive    *AdaptiveDecay
}

// ExponentialDecay computes base = exp(-age / half_life).
type ExponentialDecay struct {
	HalfLife time.Duration
}

// PatternDecay is stable for StablePeriod, then decays across UpdateCycle
// windows at a fixed per-cycle rate.
type PatternDecay struct {
	StablePeriod time.Duration
	UpdateCycle  time.Duration
}

// AdaptiveDecay layers an access-history-driven boost on top of an
// exponential base decay.
type AdaptiveDecay struct {
	BaseHalfLife      time.Duration
	AccessBoostFactor float64
	MaxBoost          float64
	RelevanceThreshold float64
}

// AccessType enumerates ContentAccess.access_type values (spec §3.2).
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessSearch AccessType = "search"
)

// ContentAccess is one historical access record for a piece of content.
type ContentAccess struct {
	ContentID      string
	AccessTime     time.Time
	AccessType     AccessType
	UserID         string
	SessionID      string
	RelevanceScore *float64
}

// SeasonalPeriodKind tags which of the four seasonal shapes applies.
type SeasonalPeriodKind string

const (
	SeasonalYearly  SeasonalPeriodKind = "yearly"
	SeasonalMonthly SeasonalPeriodKind = "monthly"
	SeasonalWeekly  SeasonalPeriodKind = "weekly"
	SeasonalDaily   SeasonalPeriodKind = "daily"
)

// SeasonalPeriod describes a recurring window with a relevance multiplier.
type SeasonalPeriod struct {
	Kind       SeasonalPeriodKind
	Month      time.Month // Yearly
	Day        int        // Yearly, Monthly
	Weekday    time.Weekday
	Hour       int // Daily
	Multiplier float64
}

// TimezoneContext carries the user's timezone and business-hours window
// used for the optional timezone adjustment (spec §4.1 step 4).
type TimezoneContext struct {
	UserTimezone       *time.Location
	BusinessHoursStart int // hour of day, 0-23
	BusinessHoursEnd   int // hour of day, 0-23
	TeamTimezones      []*time.Location
}

// recentAccessWindow bounds "recent" access history to 30 days (spec §4.1
// edge cases: "access history entries older than 30 days ignored").
const recentAccessWindow = 30 * 24 * time.Hour

// Engine computes temporal relevance per content kind.
type Engine struct {
	functions map[ContentKind]DecayFunction
}

// NewEngine builds an Engine with the default decay function assignment
// per content kind, mirroring DecayCalculator::default_decay_functions in
// the original Rust source.
func NewEngine() *Engine {
	return &Engine{functions: defaultFunctions()}
}

// NewEngineWithFunctions allows callers to override per-kind decay functions.
func NewEngineWithFunctions(functions map[ContentKind]DecayFunction) *Engine {
	merged := defaultFunctions()
	for k, v := range functions {
		merged[k] = v
	}
	return &Engine{functions: merged}
}

func defaultFunctions() map[ContentKind]DecayFunction {
	return map[ContentKind]DecayFunction{
		KindDocumentation: {Exponential: &ExponentialDecay{HalfLife: 365 * 24 * time.Hour}},
		KindCode:          {Exponential: &ExponentialDecay{HalfLife: 168 * time.Hour}},
		KindDecision:      {Exponential: &ExponentialDecay{HalfLife: 52 * 7 * 24 * time.Hour}},
		KindKnowledge: {Adaptive: &AdaptiveDecay{
			BaseHalfLife:       30 * 24 * time.Hour,
			AccessBoostFactor:  0.1,
			MaxBoost:           0.5,
			RelevanceThreshold: 0.5,
		}},
		KindPattern: {Pattern: &PatternDecay{
			StablePeriod: 90 * 24 * time.Hour,
			UpdateCycle:  30 * 24 * time.Hour,
		}},
		KindConfiguration: {Exponential: &ExponentialDecay{HalfLife: 180 * 24 * time.Hour}},
		KindTodo:          {Exponential: &ExponentialDecay{HalfLife: 72 * time.Hour}},
		KindInsight: {Adaptive: &AdaptiveDecay{
			BaseHalfLife:       30 * 24 * time.Hour,
			AccessBoostFactor:  0.1,
			MaxBoost:           0.5,
			RelevanceThreshold: 0.5,
		}},
		KindUnknown: {Exponential: &ExponentialDecay{HalfLife: 365 * 24 * time.Hour}},
	}
}

// Relevance computes temporal_relevance(content, query_time) per spec §4.1.
// tz and seasonal are optional (nil/empty skips those adjustments).
func (e *Engine) Relevance(
	kind ContentKind,
	createdAt time.Time,
	queryTime time.Time,
	history []ContentAccess,
	tz *TimezoneContext,
	seasonal []SeasonalPeriod,
) (float64, error) {
	fn, ok := e.functions[kind]
	if !ok {
		return 0, rherr.Config("no decay function configured for content kind", nil).WithKey(string(kind))
	}

	age := queryTime.Sub(createdAt)
	if age < 0 {
		// Future-dated content: base=1, capped.
		age = 0
	}

	base, err := fn.calculate(age)
	if err != nil {
		return 0, err
	}

	if fn.Adaptive != nil && history != nil {
		adaptive, err := adaptiveFactor(*fn.Adaptive, history, queryTime)
		if err != nil {
			return 0, err
		}
		base *= adaptive
	}

	if tz != nil {
		base *= timezoneAdjustment(*tz, queryTime)
	}

	for _, s := range seasonal {
		base *= seasonalMultiplier(s, queryTime)
	}

	return clamp01(base), nil
}

func (f DecayFunction) calculate(age time.Duration) (float64, error) {
	switch {
	case f.Exponential != nil:
		return exponentialDecay(age, f.Exponential.HalfLife)
	case f.Pattern != nil:
		return patternDecay(age, f.Pattern.StablePeriod, f.Pattern.UpdateCycle), nil
	case f.Adaptive != nil:
		return exponentialDecay(age, f.Adaptive.BaseHalfLife)
	default:
		return 0, rherr.Config("decay function has no variant set", nil)
	}
}

func exponentialDecay(age, halfLife time.Duration) (float64, error) {
	if halfLife <= 0 {
		return 0, rherr.Config("half-life must be positive", nil)
	}
	ageSeconds := age.Seconds()
	halfLifeSeconds := halfLife.Seconds()
	return math.Exp(-ageSeconds / halfLifeSeconds), nil
}

func patternDecay(age, stablePeriod, updateCycle time.Duration) float64 {
	if stablePeriod <= 0 {
		stablePeriod = time.Hour
	}
	if updateCycle <= 0 {
		updateCycle = time.Hour
	}

	if age <= stablePeriod {
		ratio := float64(age) / float64(stablePeriod)
		return 1.0 - ratio*0.1
	}

	cycles := float64(age-stablePeriod) / float64(updateCycle)
	return math.Exp(-0.5 * cycles)
}

// adaptiveFactor implements DecayCalculator::calculate_knowledge_adaptive_adjustment:
// adaptive_factor = 1 + min(max_boost, recent_access_count*access_boost_factor)
//                     + max(0, 2*(avg_recent_relevance - relevance_threshold))
func adaptiveFactor(cfg AdaptiveDecay, history []ContentAccess, now time.Time) (float64, error) {
	var recentCount int
	var relevanceSum float64
	var relevanceCount int

	for _, access := range history {
		age := now.Sub(access.AccessTime)
		if age < 0 || age > recentAccessWindow {
			continue
		}
		recentCount++
		if access.RelevanceScore != nil {
			relevanceSum += *access.RelevanceScore
			relevanceCount++
		}
	}

	avgRelevance := 0.0
	if relevanceCount > 0 {
		avgRelevance = relevanceSum / float64(relevanceCount)
	}

	frequencyBoost := math.Min(cfg.MaxBoost, float64(recentCount)*cfg.AccessBoostFactor)
	relevanceBoost := math.Max(0, 2*(avgRelevance-cfg.RelevanceThreshold))

	return 1 + frequencyBoost + relevanceBoost, nil
}

// timezoneAdjustment returns a multiplier in [0.0, 1.5]: content queried
// during the user's business hours is treated as more relevant.
func timezoneAdjustment(tz TimezoneContext, queryTime time.Time) float64 {
	if tz.UserTimezone == nil {
		return 1.0
	}
	local := queryTime.In(tz.UserTimezone)
	hour := local.Hour()

	start, end := tz.BusinessHoursStart, tz.BusinessHoursEnd
	if start == end {
		return 1.0
	}
	within := false
	if start < end {
		within = hour >= start && hour < end
	} else {
		within = hour >= start || hour < end
	}
	if within {
		return 1.2
	}
	return 0.9
}

// seasonalMultiplier applies a bounded [0.5, 2.0] multiplier when
// queryTime falls within the described recurring period.
func seasonalMultiplier(p SeasonalPeriod, queryTime time.Time) float64 {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1.0
	}
	mult = math.Max(0.5, math.Min(2.0, mult))

	matches := false
	switch p.Kind {
	case SeasonalYearly:
		matches = queryTime.Month() == p.Month && queryTime.Day() == p.Day
	case SeasonalMonthly:
		matches = queryTime.Day() == p.Day
	case SeasonalWeekly:
		matches = queryTime.Weekday() == p.Weekday
	case SeasonalDaily:
		matches = queryTime.Hour() == p.Hour
	}
	if matches {
		return mult
	}
	return 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
