package usecases

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/pkg/metrics"
	"github.com/korope-ng/korope/internal/pkg/telemetry"
)

// Currency is the ISO code every fare is quoted in.
const Currency = "NGN"

// FareOptions tunes estimation and feedback validation.
type FareOptions struct {
	Band               float64  // relative half-width of the quoted range
	HistoryWindow      time.Duration
	HistoryFullWeight  int      // samples at which history fully replaces the rule price
	DeviationThreshold float64  // relative deviation from history that flags feedback
	Ceiling            float64  // absolute amount above which feedback is implausible
	FixedTolerance     float64  // allowed relative deviation from a fixed fare
	Holidays           []string // MM-DD
	Location           *time.Location
}

// DefaultFareOptions returns the production defaults.
func DefaultFareOptions() FareOptions {
	return FareOptions{
		Band:               0.2,
		HistoryWindow:      30 * 24 * time.Hour,
		HistoryFullWeight:  10,
		DeviationThreshold: 0.5,
		Ceiling:            50000,
		FixedTolerance:     0.1,
		Holidays:           []string{"01-01", "05-01", "06-12", "10-01", "12-25", "12-26"},
		Location:           time.FixedZone("WAT", 60*60),
	}
}

// FareEngine prices legs from rate rules blended with commuter-reported fares.
type FareEngine struct {
	rules    ports.FareRuleRepository
	feedback ports.FareFeedbackRepository
	reviewer ports.FeedbackReviewer
	cache    ports.CacheService
	opts     FareOptions
	now      func() time.Time
}

// NewFareEngine creates a new FareEngine. reviewer and cache may be nil.
func NewFareEngine(rules ports.FareRuleRepository, feedback ports.FareFeedbackRepository, reviewer ports.FeedbackReviewer, cache ports.CacheService, opts FareOptions) *FareEngine {
	def := DefaultFareOptions()
	if opts.Band <= 0 {
		opts.Band = def.Band
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.HistoryFullWeight <= 0 {
		opts.HistoryFullWeight = def.HistoryFullWeight
	}
	if opts.DeviationThreshold <= 0 {
		opts.DeviationThreshold = def.DeviationThreshold
	}
	if opts.Ceiling <= 0 {
		opts.Ceiling = def.Ceiling
	}
	if opts.FixedTolerance <= 0 {
		opts.FixedTolerance = def.FixedTolerance
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	return &FareEngine{
		rules:    rules,
		feedback: feedback,
		reviewer: reviewer,
		cache:    cache,
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source.
func (e *FareEngine) SetClock(now func() time.Time) { e.now = now }

// DefaultFareRule is used when no stored rule matches a request.
func DefaultFareRule(mode domain.TransportMode) domain.FareRule {
	r := domain.FareRule{
		ID:       "default:" + string(mode),
		Mode:     mode,
		FareType: domain.FareDistanceBased,
		Active:   true,
	}
	switch mode {
	case domain.ModeBus:
		r.BaseFare, r.PerKmRate, r.MinimumFare, r.MaximumFare = 100, 40, 100, 1500
	case domain.ModeTaxi:
		r.FareType = domain.FareMetered
		r.BaseFare, r.PerKmRate, r.PerMinuteRate, r.MinimumFare, r.MaximumFare = 300, 120, 10, 500, 10000
	case domain.ModeKeke:
		r.BaseFare, r.PerKmRate, r.MinimumFare, r.MaximumFare = 100, 60, 100, 1500
	case domain.ModeOkada:
		r.FareType = domain.FareNegotiable
		r.BaseFare, r.PerKmRate, r.MinimumFare, r.MaximumFare = 150, 80, 150, 2500
	}
	return r
}

// EstimateFare prices one leg.
func (e *FareEngine) EstimateFare(ctx context.Context, req domain.FareRequest) (*domain.FareEstimate, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, telemetry.SpanEstimateFare)
	defer span.End()
	span.SetAttributes(attribute.String("fare.mode", string(req.Mode)))

	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidFareRequest, req.Mode)
	}
	if req.DistanceKm < 0 || req.DurationMin < 0 || math.IsNaN(req.DistanceKm) {
		return nil, fmt.Errorf("%w: distance and duration must not be negative", domain.ErrInvalidFareRequest)
	}

	if req.Mode == domain.ModeWalking {
		return &domain.FareEstimate{Currency: Currency, Confidence: domain.ConfidenceHigh}, nil
	}

	at := req.At
	if at.IsZero() {
		at = e.now()
	}
	at = at.In(e.opts.Location)

	rule, err := e.selectRule(ctx, req, at)
	if err != nil {
		return nil, err
	}

	price := e.rulePrice(rule, req, at)

	stats := e.history(ctx, req.Mode, req.RouteID, req.SegmentID, at)
	if stats.Count > 0 && stats.Average > 0 {
		w := math.Min(float64(stats.Count)/float64(e.opts.HistoryFullWeight), 1)
		price = (1-w)*price + w*stats.Average
	}

	est := &domain.FareEstimate{
		Min:         clampFare(math.Round(price*(1-e.opts.Band)), rule),
		Max:         clampFare(math.Round(price*(1+e.opts.Band)), rule),
		Estimate:    clampFare(math.Round(price), rule),
		Currency:    Currency,
		Confidence:  confidenceFor(stats.Count),
		RuleID:      rule.ID,
		SampleCount: stats.Count,
	}
	metrics.FareEstimatesTotal.WithLabelValues(string(req.Mode), est.Confidence).Inc()
	return est, nil
}

// BlendRouteHistory folds verified whole-route fares reported for routeID
// into a summed route total. Route feedback prices the full journey, so it
// is applied once here and never to individual legs.
func (e *FareEngine) BlendRouteHistory(ctx context.Context, routeID string, total *domain.FareEstimate) *domain.FareEstimate {
	if total == nil || routeID == "" {
		return total
	}
	at := e.now().In(e.opts.Location)
	stats := e.history(ctx, "", routeID, "", at)
	if stats.Count == 0 || stats.Average <= 0 {
		return total
	}

	w := math.Min(float64(stats.Count)/float64(e.opts.HistoryFullWeight), 1)
	price := (1-w)*total.Estimate + w*stats.Average
	out := *total
	out.Estimate = math.Round(price)
	out.Min = math.Round(price * (1 - e.opts.Band))
	out.Max = math.Round(price * (1 + e.opts.Band))
	out.Confidence = confidenceFor(stats.Count)
	out.SampleCount = stats.Count
	return &out
}

// history returns verified feedback for a route or segment. Mode-wide
// history mixes unrelated trips, so a request with neither key has none.
func (e *FareEngine) history(ctx context.Context, mode domain.TransportMode, routeID, segmentID string, at time.Time) domain.FeedbackStats {
	if routeID == "" && segmentID == "" {
		return domain.FeedbackStats{}
	}
	stats, err := e.feedback.Stats(ctx, domain.FeedbackQuery{
		Mode:      mode,
		RouteID:   routeID,
		SegmentID: segmentID,
		Since:     at.Add(-e.opts.HistoryWindow),
	})
	if err != nil {
		slog.Warn("fare history unavailable", "mode", mode, "error", err)
		return domain.FeedbackStats{}
	}
	return stats
}

func confidenceFor(samples int) string {
	switch {
	case samples < 5:
		return domain.ConfidenceLow
	case samples < 20:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceHigh
	}
}

// selectRule picks, among the valid rules whose city and state scope admit
// the request, the highest priority one, then the most recently created.
// Scope only filters; specificity breaks a remaining tie. It falls back to
// DefaultFareRule.
func (e *FareEngine) selectRule(ctx context.Context, req domain.FareRequest, at time.Time) (domain.FareRule, error) {
	rules, err := e.activeRules(ctx, req.Mode)
	if err != nil {
		return domain.FareRule{}, err
	}

	var best *domain.FareRule
	bestScope := -1
	for i := range rules {
		r := &rules[i]
		if !r.Active || r.Mode != req.Mode || !r.ValidAt(at) {
			continue
		}
		scope := ruleScope(r, req.City, req.State)
		if scope < 0 {
			continue
		}
		if best == nil || outranks(r, scope, best, bestScope) {
			best, bestScope = r, scope
		}
	}
	if best == nil {
		return DefaultFareRule(req.Mode), nil
	}
	return *best, nil
}

func outranks(r *domain.FareRule, scope int, best *domain.FareRule, bestScope int) bool {
	if r.Priority != best.Priority {
		return r.Priority > best.Priority
	}
	if !r.CreatedAt.Equal(best.CreatedAt) {
		return r.CreatedAt.After(best.CreatedAt)
	}
	return scope > bestScope
}

// ruleScope ranks how specifically a rule matches a city and state. It is
// negative when the rule is scoped elsewhere.
func ruleScope(r *domain.FareRule, city, state string) int {
	scope := 0
	if r.State != "" {
		if !strings.EqualFold(r.State, state) {
			return -1
		}
		scope++
	}
	if r.City != "" {
		if !strings.EqualFold(r.City, city) {
			return -1
		}
		scope += 2
	}
	return scope
}

func (e *FareEngine) activeRules(ctx context.Context, mode domain.TransportMode) ([]domain.FareRule, error) {
	key := "fares:rules:" + string(mode)
	if rules, ok := cacheGet[[]domain.FareRule](ctx, e.cache, "fare_rules", key); ok {
		return rules, nil
	}
	rules, err := e.rules.ListActive(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("list fare rules: %w", err)
	}
	cacheSet(ctx, e.cache, key, rules, 300)
	return rules, nil
}

// rulePrice runs the rule pipeline: base, multipliers, surcharges, charges,
// discounts and finally the rule's bounds.
func (e *FareEngine) rulePrice(r domain.FareRule, req domain.FareRequest, at time.Time) float64 {
	price := r.BaseFare
	if r.FareType != domain.FareFixed {
		price += r.PerKmRate*req.DistanceKm + r.PerMinuteRate*req.DurationMin
	}

	if r.PeakMultiplier > 0 && inPeakWindow(r.PeakWindows, at) {
		price *= r.PeakMultiplier
	}
	if r.WeekendMultiplier > 0 && (at.Weekday() == time.Saturday || at.Weekday() == time.Sunday) {
		price *= r.WeekendMultiplier
	}
	if r.HolidayMultiplier > 0 && (req.IsHoliday || e.isHoliday(at)) {
		price *= r.HolidayMultiplier
	}
	if m, ok := r.WeatherMultipliers[strings.ToLower(req.Weather)]; ok && req.Weather != "" && m > 0 {
		price *= m
	}

	price += r.FuelSurchargeFlat
	price *= 1 + r.FuelSurchargePercent/100

	for _, c := range r.AdditionalCharges {
		price += c.Amount
	}
	for _, d := range r.Discounts {
		if d.Value < 1 {
			price *= 1 - d.Value
		} else {
			price -= d.Value
		}
	}
	price = math.Max(price, 0)

	return clampFare(price, r)
}

func (e *FareEngine) isHoliday(at time.Time) bool {
	return slices.Contains(e.opts.Holidays, at.Format("01-02"))
}

func clampFare(v float64, r domain.FareRule) float64 {
	if r.MinimumFare > 0 && v < r.MinimumFare {
		v = r.MinimumFare
	}
	if r.MaximumFare > 0 && v > r.MaximumFare {
		v = r.MaximumFare
	}
	return v
}

func inPeakWindow(windows []domain.PeakWindow, at time.Time) bool {
	m := at.Hour()*60 + at.Minute()
	for _, w := range windows {
		start, err1 := parseClock(w.Start)
		end, err2 := parseClock(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		if start <= end {
			if m >= start && m < end {
				return true
			}
		} else if m >= start || m < end {
			return true
		}
	}
	return false
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// SumEstimates adds leg estimates into a route estimate. The route's
// confidence is that of its weakest leg.
func SumEstimates(legs []*domain.FareEstimate) *domain.FareEstimate {
	total := &domain.FareEstimate{Currency: Currency, Confidence: domain.ConfidenceHigh}
	rank := map[string]int{domain.ConfidenceLow: 0, domain.ConfidenceMedium: 1, domain.ConfidenceHigh: 2}
	for _, l := range legs {
		if l == nil {
			continue
		}
		total.Min += l.Min
		total.Max += l.Max
		total.Estimate += l.Estimate
		total.SampleCount += l.SampleCount
		if rank[l.Confidence] < rank[total.Confidence] {
			total.Confidence = l.Confidence
		}
	}
	if total.Min > total.Max {
		total.Min, total.Max = total.Max, total.Min
	}
	return total
}

// ── Feedback ─────────────────────────────────────────────────

// ValidateFeedback scores a fare observation against history, the absolute
// ceiling and any fixed fare for the mode.
func (e *FareEngine) ValidateFeedback(ctx context.Context, fb *domain.FareFeedback) (domain.FeedbackValidation, error) {
	v := domain.FeedbackValidation{Score: 10}
	at := fb.TripDate
	if at.IsZero() {
		at = e.now()
	}
	at = at.In(e.opts.Location)

	stats := e.history(ctx, fb.Mode, fb.RouteID, fb.SegmentID, at)
	if stats.Count > 0 && stats.Average > 0 {
		v.HistoricalAvg = stats.Average
		dev := math.Abs(fb.Amount-stats.Average) / stats.Average
		v.DeviationPercent = math.Round(dev * 100)
		if dev > e.opts.DeviationThreshold {
			v.Flags = append(v.Flags, domain.FlagDeviation)
			v.Score -= 4
		}
	}

	if fb.Amount > e.opts.Ceiling {
		v.Flags = append(v.Flags, domain.FlagCeiling)
		v.Score -= 5
	}

	rule, err := e.selectRule(ctx, domain.FareRequest{Mode: fb.Mode, City: fb.City, State: fb.State}, at)
	if err != nil {
		return v, err
	}
	if rule.FareType == domain.FareFixed {
		// A fixed fare is its base; surcharges and multipliers do not move it.
		expected := rule.BaseFare
		if expected > 0 && math.Abs(fb.Amount-expected)/expected > e.opts.FixedTolerance {
			v.Flags = append(v.Flags, domain.FlagFixedConflict)
			v.Score -= 3
		}
	}

	v.Score = max(v.Score, 0)
	v.Flagged = len(v.Flags) > 0
	return v, nil
}

// SubmitFeedback validates and stores a fare observation. Clean observations
// are verified immediately; flagged ones are handed to the reviewer.
func (e *FareEngine) SubmitFeedback(ctx context.Context, fb *domain.FareFeedback) (*domain.FeedbackValidation, error) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(ctx, telemetry.SpanSubmitFeedback)
	defer span.End()

	switch {
	case fb.Amount <= 0:
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidFeedback)
	case !fb.Mode.Valid() || fb.Mode == domain.ModeWalking:
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidFeedback, fb.Mode)
	case fb.UserID == "":
		return nil, fmt.Errorf("%w: user is required", domain.ErrInvalidFeedback)
	case fb.DistanceKm < 0:
		return nil, fmt.Errorf("%w: distance must not be negative", domain.ErrInvalidFeedback)
	}

	now := e.now()
	fb.ID = uuid.NewString()
	fb.CreatedAt = now
	if fb.TripDate.IsZero() {
		fb.TripDate = now
	}

	v, err := e.ValidateFeedback(ctx, fb)
	if err != nil {
		return nil, err
	}
	fb.VerificationScore = v.Score
	fb.Flags = v.Flags
	fb.Verified = !v.Flagged
	fb.Disputed = false

	if err := e.feedback.Create(ctx, fb); err != nil {
		return nil, fmt.Errorf("store feedback: %w", err)
	}

	if !v.Flagged {
		metrics.FareFeedbackTotal.WithLabelValues("verified").Inc()
		return &v, nil
	}

	metrics.FareFeedbackTotal.WithLabelValues("flagged").Inc()
	if e.reviewer != nil {
		if err := e.reviewer.StartReview(ctx, fb.ID); err != nil {
			slog.Warn("start feedback review failed", "feedback_id", fb.ID, "error", err)
		}
	}
	return &v, nil
}

// DisputeFeedback marks an observation as disputed so it no longer feeds estimates.
func (e *FareEngine) DisputeFeedback(ctx context.Context, id string) error {
	if _, err := e.feedback.GetByID(ctx, id); err != nil {
		return err
	}
	return e.feedback.MarkDisputed(ctx, id)
}

// FinalizeReview settles a flagged observation once its review window has
// passed. It reports whether the observation was verified.
func (e *FareEngine) FinalizeReview(ctx context.Context, id string) (bool, error) {
	fb, err := e.feedback.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if fb.Disputed {
		return false, nil
	}
	if fb.Verified {
		return true, nil
	}
	if fb.VerificationScore >= 5 {
		return true, e.feedback.MarkVerified(ctx, id)
	}
	return false, e.feedback.MarkDisputed(ctx, id)
}

// ── Rules ────────────────────────────────────────────────────

// SaveRule validates and stores a fare rule.
func (e *FareEngine) SaveRule(ctx context.Context, r *domain.FareRule) error {
	if r.FareType == "" {
		r.FareType = domain.FareDistanceBased
	}
	if err := ValidateFareRule(r); err != nil {
		return err
	}

	now := e.now()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EffectiveFrom.IsZero() {
		r.EffectiveFrom = now
	}
	r.CreatedAt = now

	if err := e.rules.Create(ctx, r); err != nil {
		return fmt.Errorf("store fare rule: %w", err)
	}
	if e.cache != nil {
		_ = e.cache.Delete(ctx, "fares:rules:"+string(r.Mode))
	}
	return nil
}

// ListRules returns active rules, optionally for one mode.
func (e *FareEngine) ListRules(ctx context.Context, mode domain.TransportMode) ([]domain.FareRule, error) {
	rules, err := e.rules.ListActive(ctx, mode)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(rules, func(a, b domain.FareRule) int {
		if c := cmp.Compare(a.Mode, b.Mode); c != 0 {
			return c
		}
		return cmp.Compare(b.Priority, a.Priority)
	})
	return rules, nil
}

// ValidateFareRule checks a rule for internal consistency.
func ValidateFareRule(r *domain.FareRule) error {
	var problems []string

	if !r.Mode.Valid() {
		problems = append(problems, fmt.Sprintf("unknown mode %q", r.Mode))
	}
	switch r.FareType {
	case domain.FareFixed, domain.FareNegotiable, domain.FareMetered, domain.FareDistanceBased:
	default:
		problems = append(problems, fmt.Sprintf("unknown fare type %q", r.FareType))
	}

	for name, v := range map[string]float64{
		"base_fare":              r.BaseFare,
		"per_km_rate":            r.PerKmRate,
		"per_minute_rate":        r.PerMinuteRate,
		"minimum_fare":           r.MinimumFare,
		"maximum_fare":           r.MaximumFare,
		"fuel_surcharge_flat":    r.FuelSurchargeFlat,
		"fuel_surcharge_percent": r.FuelSurchargePercent,
		"peak_multiplier":        r.PeakMultiplier,
		"weekend_multiplier":     r.WeekendMultiplier,
		"holiday_multiplier":     r.HolidayMultiplier,
	} {
		if v < 0 {
			problems = append(problems, name+" must not be negative")
		}
	}
	if r.MaximumFare > 0 && r.MaximumFare < r.MinimumFare {
		problems = append(problems, "maximum_fare is below minimum_fare")
	}
	for cond, m := range r.WeatherMultipliers {
		if m <= 0 {
			problems = append(problems, fmt.Sprintf("weather multiplier for %q must be positive", cond))
		}
	}
	for _, w := range r.PeakWindows {
		start, err1 := parseClock(w.Start)
		end, err2 := parseClock(w.End)
		if err1 != nil || err2 != nil || start == end {
			problems = append(problems, fmt.Sprintf("invalid peak window %s-%s", w.Start, w.End))
		}
	}
	if r.PeakMultiplier > 0 && len(r.PeakWindows) == 0 {
		problems = append(problems, "peak_multiplier needs at least one peak window")
	}
	for _, c := range r.AdditionalCharges {
		if c.Amount < 0 {
			problems = append(problems, fmt.Sprintf("charge %q must not be negative", c.Name))
		}
	}
	for _, d := range r.Discounts {
		if d.Value <= 0 {
			problems = append(problems, fmt.Sprintf("discount %q must be positive", d.Name))
		}
	}
	if r.EffectiveUntil != nil && !r.EffectiveFrom.IsZero() && !r.EffectiveUntil.After(r.EffectiveFrom) {
		problems = append(problems, "effective_until must be after effective_from")
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return fmt.Errorf("%w: %s", domain.ErrInvalidFareRule, strings.Join(problems, "; "))
}
