package usecases_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/ports"
	"github.com/korope-ng/korope/internal/core/usecases"
)

var wat = time.FixedZone("WAT", 60*60)

// Wednesday, not a holiday, outside any peak window used below.
var midweekNoon = time.Date(2026, time.March, 11, 12, 0, 0, 0, wat)

func newFareEngine(rules []domain.FareRule, feedback *mockFeedbackRepo, reviewer *mockReviewer) *usecases.FareEngine {
	if feedback == nil {
		feedback = newMockFeedbackRepo()
	}
	var rev ports.FeedbackReviewer
	if reviewer != nil {
		rev = reviewer
	}
	e := usecases.NewFareEngine(&mockFareRuleRepo{rules: rules}, feedback, rev, nil, usecases.DefaultFareOptions())
	e.SetClock(func() time.Time { return midweekNoon })
	return e
}

func busRule(base, perKm float64) domain.FareRule {
	return domain.FareRule{
		ID:        "rule-bus",
		Mode:      domain.ModeBus,
		FareType:  domain.FareDistanceBased,
		BaseFare:  base,
		PerKmRate: perKm,
		Active:    true,
	}
}

func TestEstimateFare_RuleWithoutHistory(t *testing.T) {
	e := newFareEngine([]domain.FareRule{busRule(100, 50)}, nil, nil)

	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Estimate != 250 {
		t.Errorf("expected estimate 250, got %v", est.Estimate)
	}
	if est.Min != 200 || est.Max != 300 {
		t.Errorf("expected band [200, 300], got [%v, %v]", est.Min, est.Max)
	}
	if est.Confidence != domain.ConfidenceLow {
		t.Errorf("expected low confidence, got %s", est.Confidence)
	}
	if est.Currency != "NGN" {
		t.Errorf("expected NGN, got %s", est.Currency)
	}
	if est.RuleID != "rule-bus" {
		t.Errorf("expected rule-bus, got %s", est.RuleID)
	}
}

func TestEstimateFare_DefaultRule(t *testing.T) {
	e := newFareEngine(nil, nil, nil)

	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// base 100 with a 100 minimum: the lower band edge is clamped up.
	if est.Min != 100 || est.Estimate != 100 || est.Max != 120 {
		t.Errorf("unexpected estimate %+v", est)
	}
	if est.RuleID != "default:bus" {
		t.Errorf("expected default rule, got %s", est.RuleID)
	}
}

func TestEstimateFare_Walking(t *testing.T) {
	e := newFareEngine(nil, nil, nil)

	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeWalking, DistanceKm: 1.2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Min != 0 || est.Max != 0 || est.Confidence != domain.ConfidenceHigh {
		t.Errorf("expected free high-confidence walking leg, got %+v", est)
	}
}

func TestEstimateFare_InvalidRequest(t *testing.T) {
	e := newFareEngine(nil, nil, nil)

	for _, req := range []domain.FareRequest{
		{Mode: domain.ModeBus, DistanceKm: -1},
		{Mode: "helicopter", DistanceKm: 1},
	} {
		if _, err := e.EstimateFare(context.Background(), req); !errors.Is(err, domain.ErrInvalidFareRequest) {
			t.Errorf("%+v: expected ErrInvalidFareRequest, got %v", req, err)
		}
	}
}

func TestEstimateFare_Multipliers(t *testing.T) {
	rule := busRule(100, 0)
	rule.PeakMultiplier = 1.5
	rule.PeakWindows = []domain.PeakWindow{{Start: "07:00", End: "10:00"}, {Start: "22:00", End: "02:00"}}
	rule.WeekendMultiplier = 1.2
	rule.HolidayMultiplier = 2
	rule.WeatherMultipliers = map[string]float64{"rain": 1.3}

	tests := []struct {
		name    string
		at      time.Time
		weather string
		holiday bool
		want    float64
	}{
		{"off-peak weekday", midweekNoon, "", false, 100},
		{"morning peak", time.Date(2026, time.March, 11, 8, 30, 0, 0, wat), "", false, 150},
		{"peak window past midnight", time.Date(2026, time.March, 11, 1, 0, 0, 0, wat), "", false, 150},
		{"saturday", time.Date(2026, time.March, 14, 12, 0, 0, 0, wat), "", false, 120},
		{"independence day", time.Date(2026, time.October, 1, 12, 0, 0, 0, wat), "", false, 200},
		{"holiday flag", midweekNoon, "", true, 200},
		{"rain", midweekNoon, "Rain", false, 130},
		{"peak and rain", time.Date(2026, time.March, 11, 9, 0, 0, 0, wat), "rain", false, 195},
	}

	e := newFareEngine([]domain.FareRule{rule}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := e.EstimateFare(context.Background(), domain.FareRequest{
				Mode:      domain.ModeBus,
				At:        tt.at,
				Weather:   tt.weather,
				IsHoliday: tt.holiday,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if est.Estimate != tt.want {
				t.Errorf("expected %v, got %v", tt.want, est.Estimate)
			}
		})
	}
}

func TestEstimateFare_SurchargesChargesAndDiscounts(t *testing.T) {
	rule := busRule(200, 0)
	rule.FuelSurchargeFlat = 50                                          // 250
	rule.FuelSurchargePercent = 10                                       // 275
	rule.AdditionalCharges = []domain.Charge{{Name: "toll", Amount: 25}} // 300
	rule.Discounts = []domain.Discount{{Name: "student", Value: 0.5}, {Name: "promo", Value: 20}}

	e := newFareEngine([]domain.FareRule{rule}, nil, nil)
	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Estimate != 130 {
		t.Errorf("expected 130, got %v", est.Estimate)
	}
}

func TestEstimateFare_DiscountNeverNegative(t *testing.T) {
	rule := busRule(100, 0)
	rule.Discounts = []domain.Discount{{Name: "free ride", Value: 500}}

	e := newFareEngine([]domain.FareRule{rule}, nil, nil)
	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Min != 0 || est.Estimate != 0 || est.Max != 0 {
		t.Errorf("expected zero fare, got %+v", est)
	}
}

func TestEstimateFare_RuleSelection(t *testing.T) {
	older := midweekNoon.Add(-48 * time.Hour)
	newer := midweekNoon.Add(-24 * time.Hour)
	expired := midweekNoon.Add(-time.Hour)

	rules := []domain.FareRule{
		{ID: "global", Mode: domain.ModeBus, BaseFare: 100, Active: true, CreatedAt: older},
		{ID: "lagos-state", Mode: domain.ModeBus, State: "Lagos", BaseFare: 200, Active: true, CreatedAt: older},
		{ID: "ikeja-low", Mode: domain.ModeBus, City: "Ikeja", State: "Lagos", BaseFare: 300, Priority: 1, Active: true, CreatedAt: older},
		{ID: "ikeja-old", Mode: domain.ModeBus, City: "Ikeja", State: "Lagos", BaseFare: 400, Priority: 5, Active: true, CreatedAt: older},
		{ID: "ikeja-new", Mode: domain.ModeBus, City: "Ikeja", State: "Lagos", BaseFare: 500, Priority: 5, Active: true, CreatedAt: newer},
		{ID: "ikeja-expired", Mode: domain.ModeBus, City: "Ikeja", BaseFare: 900, Priority: 9, Active: true, EffectiveUntil: &expired},
		{ID: "abuja", Mode: domain.ModeBus, City: "Abuja", BaseFare: 700, Priority: 9, Active: true},
	}
	e := newFareEngine(rules, nil, nil)

	tests := []struct {
		city, state string
		want        string
	}{
		{"Ikeja", "Lagos", "ikeja-new"},
		{"Surulere", "Lagos", "lagos-state"},
		{"Kano", "Kano", "global"},
	}
	for _, tt := range tests {
		est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, City: tt.city, State: tt.state})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if est.RuleID != tt.want {
			t.Errorf("%s/%s: expected %s, got %s", tt.city, tt.state, tt.want, est.RuleID)
		}
	}
}

func TestEstimateFare_PriorityOutranksScope(t *testing.T) {
	created := midweekNoon.Add(-24 * time.Hour)
	rules := []domain.FareRule{
		{ID: "city-low", Mode: domain.ModeBus, City: "Lagos", BaseFare: 300, Priority: 1, Active: true, CreatedAt: created},
		{ID: "global-high", Mode: domain.ModeBus, BaseFare: 150, Priority: 10, Active: true, CreatedAt: created},
		{ID: "state-newest", Mode: domain.ModeBus, State: "Lagos", BaseFare: 250, Priority: 10, Active: true, CreatedAt: created.Add(time.Hour)},
		{ID: "kano-top", Mode: domain.ModeBus, City: "Kano", BaseFare: 900, Priority: 50, Active: true, CreatedAt: created},
	}
	e := newFareEngine(rules, nil, nil)

	tests := []struct {
		name        string
		city, state string
		want        string
	}{
		{"higher priority global beats lower priority city", "Lagos", "", "global-high"},
		{"equal priority resolved by recency", "Lagos", "Lagos", "state-newest"},
		{"rule scoped elsewhere never applies", "Ibadan", "Oyo", "global-high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, City: tt.city, State: tt.state})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if est.RuleID != tt.want {
				t.Errorf("expected %s, got %s", tt.want, est.RuleID)
			}
		})
	}
}

func TestEstimateFare_HistoryBlending(t *testing.T) {
	tests := []struct {
		count      int
		want       float64
		confidence string
	}{
		{0, 250, domain.ConfidenceLow},
		{3, 295, domain.ConfidenceLow},    // 0.7*250 + 0.3*400
		{5, 325, domain.ConfidenceMedium}, // half weight
		{10, 400, domain.ConfidenceMedium},
		{25, 400, domain.ConfidenceHigh},
	}
	for _, tt := range tests {
		fb := newMockFeedbackRepo()
		count := tt.count
		fb.statsFn = func(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
			if want := midweekNoon.Add(-30 * 24 * time.Hour); !q.Since.Equal(want) {
				t.Errorf("expected 30-day window, got since %v", q.Since)
			}
			if q.SegmentID != "seg-1" {
				t.Errorf("expected segment history, got %+v", q)
			}
			return domain.FeedbackStats{Count: count, Average: 400}, nil
		}
		e := newFareEngine([]domain.FareRule{busRule(100, 50)}, fb, nil)

		est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 3, SegmentID: "seg-1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if est.Estimate != tt.want {
			t.Errorf("count %d: expected %v, got %v", tt.count, tt.want, est.Estimate)
		}
		if est.Confidence != tt.confidence {
			t.Errorf("count %d: expected %s confidence, got %s", tt.count, tt.confidence, est.Confidence)
		}
		if est.Min > est.Estimate || est.Estimate > est.Max {
			t.Errorf("count %d: estimate outside band %+v", tt.count, est)
		}
	}
}

func TestEstimateFare_StandaloneIgnoresModeHistory(t *testing.T) {
	fb := newMockFeedbackRepo()
	fb.statsFn = func(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
		// every bus fare in the window, long and short trips alike
		return domain.FeedbackStats{Count: 40, Average: 2000}, nil
	}
	e := newFareEngine([]domain.FareRule{busRule(100, 50)}, fb, nil)

	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.Estimate != 250 || est.Min != 200 || est.Max != 300 {
		t.Errorf("expected unblended 250 in [200, 300], got %+v", est)
	}
	if est.SampleCount != 0 || est.Confidence != domain.ConfidenceLow {
		t.Errorf("expected no samples at low confidence, got %+v", est)
	}
}

func TestBlendRouteHistory(t *testing.T) {
	fb := newMockFeedbackRepo()
	fb.statsFn = func(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
		if q.RouteID != "r-1" || q.Mode != "" {
			t.Errorf("expected route-wide query, got %+v", q)
		}
		return domain.FeedbackStats{Count: 5, Average: 600}, nil
	}
	e := newFareEngine(nil, fb, nil)
	total := &domain.FareEstimate{Min: 320, Max: 480, Estimate: 400, Currency: "NGN", Confidence: domain.ConfidenceLow}

	got := e.BlendRouteHistory(context.Background(), "r-1", total)
	// half weight: 0.5*400 + 0.5*600
	if got.Estimate != 500 || got.Min != 400 || got.Max != 600 {
		t.Errorf("expected 500 in [400, 600], got %+v", got)
	}
	if got.Confidence != domain.ConfidenceMedium || got.SampleCount != 5 {
		t.Errorf("unexpected confidence %s with %d samples", got.Confidence, got.SampleCount)
	}
	if total.Estimate != 400 {
		t.Error("input estimate must not be modified")
	}
	if e.BlendRouteHistory(context.Background(), "", total) != total {
		t.Error("expected no blending without a route")
	}
}

func TestSumEstimates(t *testing.T) {
	total := usecases.SumEstimates([]*domain.FareEstimate{
		{Min: 200, Max: 300, Estimate: 250, Confidence: domain.ConfidenceHigh},
		nil,
		{Min: 80, Max: 120, Estimate: 100, Confidence: domain.ConfidenceMedium},
	})
	if total.Min != 280 || total.Max != 420 || total.Estimate != 350 {
		t.Errorf("unexpected sum %+v", total)
	}
	if total.Confidence != domain.ConfidenceMedium {
		t.Errorf("expected weakest confidence, got %s", total.Confidence)
	}
}

// --- Feedback ---

func TestValidateFeedback(t *testing.T) {
	fixed := domain.FareRule{ID: "brt", Mode: domain.ModeBus, FareType: domain.FareFixed, BaseFare: 500, Active: true}

	tests := []struct {
		name      string
		amount    float64
		history   domain.FeedbackStats
		wantFlags []string
		wantScore int
	}{
		{"matches fixed fare", 500, domain.FeedbackStats{Count: 10, Average: 500}, nil, 10},
		{"small deviation", 520, domain.FeedbackStats{Count: 10, Average: 500}, nil, 10},
		{"fixed conflict only", 600, domain.FeedbackStats{}, []string{domain.FlagFixedConflict}, 7},
		{"deviates from history", 900, domain.FeedbackStats{Count: 10, Average: 500}, []string{domain.FlagDeviation, domain.FlagFixedConflict}, 3},
		{"implausible", 60000, domain.FeedbackStats{Count: 10, Average: 500}, []string{domain.FlagDeviation, domain.FlagCeiling, domain.FlagFixedConflict}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newMockFeedbackRepo()
			history := tt.history
			fb.statsFn = func(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
				return history, nil
			}
			e := newFareEngine([]domain.FareRule{fixed}, fb, nil)

			v, err := e.ValidateFeedback(context.Background(), &domain.FareFeedback{Mode: domain.ModeBus, RouteID: "route-1", Amount: tt.amount})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(v.Flags, tt.wantFlags) {
				t.Errorf("expected flags %v, got %v", tt.wantFlags, v.Flags)
			}
			if v.Score != tt.wantScore {
				t.Errorf("expected score %d, got %d", tt.wantScore, v.Score)
			}
			if v.Flagged != (len(tt.wantFlags) > 0) {
				t.Errorf("flagged = %v with flags %v", v.Flagged, v.Flags)
			}
		})
	}
}

func TestValidateFeedback_FixedFareIgnoresAdjustments(t *testing.T) {
	fixed := domain.FareRule{
		ID: "brt", Mode: domain.ModeBus, FareType: domain.FareFixed, BaseFare: 200,
		FuelSurchargePercent: 20, PeakMultiplier: 2, PeakWindows: []domain.PeakWindow{{Start: "07:00", End: "10:00"}},
		Active: true,
	}
	e := newFareEngine([]domain.FareRule{fixed}, nil, nil)

	tests := []struct {
		name      string
		amount    float64
		at        time.Time
		wantFlags []string
	}{
		{"base fare off-peak", 200, midweekNoon, nil},
		{"base fare at peak", 200, time.Date(2026, time.March, 11, 8, 0, 0, 0, wat), nil},
		{"surcharged amount", 240, midweekNoon, []string{domain.FlagFixedConflict}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.ValidateFeedback(context.Background(), &domain.FareFeedback{Mode: domain.ModeBus, Amount: tt.amount, TripDate: tt.at})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(v.Flags, tt.wantFlags) {
				t.Errorf("expected flags %v, got %v", tt.wantFlags, v.Flags)
			}
			if len(tt.wantFlags) == 0 && v.Score != 10 {
				t.Errorf("expected score 10, got %d", v.Score)
			}
		})
	}
}

func TestSubmitFeedback_CleanIsVerified(t *testing.T) {
	fb := newMockFeedbackRepo()
	rev := &mockReviewer{}
	e := newFareEngine(nil, fb, rev)

	v, err := e.SubmitFeedback(context.Background(), &domain.FareFeedback{UserID: "u1", Mode: domain.ModeKeke, Amount: 300})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Flagged {
		t.Fatalf("expected clean feedback, got flags %v", v.Flags)
	}
	if len(fb.stored) != 1 {
		t.Fatalf("expected 1 stored feedback, got %d", len(fb.stored))
	}
	for _, stored := range fb.stored {
		if !stored.Verified || stored.VerificationScore != 10 {
			t.Errorf("expected verified with score 10, got %+v", stored)
		}
	}
	if len(rev.started) != 0 {
		t.Errorf("expected no review, got %v", rev.started)
	}
}

func TestSubmitFeedback_FlaggedGoesToReview(t *testing.T) {
	fb := newMockFeedbackRepo()
	rev := &mockReviewer{}
	e := newFareEngine(nil, fb, rev)

	in := &domain.FareFeedback{UserID: "u1", Mode: domain.ModeTaxi, Amount: 75000}
	v, err := e.SubmitFeedback(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Flagged || !slices.Contains(v.Flags, domain.FlagCeiling) {
		t.Fatalf("expected ceiling flag, got %+v", v)
	}
	if fb.stored[in.ID].Verified {
		t.Error("flagged feedback must not be verified")
	}
	if len(rev.started) != 1 || rev.started[0] != in.ID {
		t.Errorf("expected review for %s, got %v", in.ID, rev.started)
	}
}

func TestSubmitFeedback_Invalid(t *testing.T) {
	e := newFareEngine(nil, nil, nil)

	for _, fb := range []*domain.FareFeedback{
		{UserID: "u1", Mode: domain.ModeBus, Amount: 0},
		{UserID: "u1", Mode: domain.ModeBus, Amount: -50},
		{UserID: "u1", Mode: "plane", Amount: 100},
		{Mode: domain.ModeBus, Amount: 100},
	} {
		if _, err := e.SubmitFeedback(context.Background(), fb); !errors.Is(err, domain.ErrInvalidFeedback) {
			t.Errorf("%+v: expected ErrInvalidFeedback, got %v", fb, err)
		}
	}
}

func TestFinalizeReview(t *testing.T) {
	fb := newMockFeedbackRepo()
	fb.stored["ok"] = &domain.FareFeedback{ID: "ok", VerificationScore: 7}
	fb.stored["bad"] = &domain.FareFeedback{ID: "bad", VerificationScore: 1}
	fb.stored["disputed"] = &domain.FareFeedback{ID: "disputed", VerificationScore: 9, Disputed: true}
	e := newFareEngine(nil, fb, nil)

	if ok, err := e.FinalizeReview(context.Background(), "ok"); err != nil || !ok {
		t.Errorf("expected ok to be verified, got %v, %v", ok, err)
	}
	if ok, err := e.FinalizeReview(context.Background(), "bad"); err != nil || ok {
		t.Errorf("expected bad to be rejected, got %v, %v", ok, err)
	}
	if ok, err := e.FinalizeReview(context.Background(), "disputed"); err != nil || ok {
		t.Errorf("expected disputed to stay disputed, got %v, %v", ok, err)
	}
	if !slices.Equal(fb.verified, []string{"ok"}) || !slices.Equal(fb.disputed, []string{"bad"}) {
		t.Errorf("unexpected marks: verified=%v disputed=%v", fb.verified, fb.disputed)
	}
	if _, err := e.FinalizeReview(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDisputeFeedback(t *testing.T) {
	fb := newMockFeedbackRepo()
	fb.stored["f1"] = &domain.FareFeedback{ID: "f1", Verified: true}
	e := newFareEngine(nil, fb, nil)

	if err := e.DisputeFeedback(context.Background(), "f1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fb.stored["f1"].Disputed {
		t.Error("expected feedback to be disputed")
	}
	if err := e.DisputeFeedback(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Rules ---

func TestValidateFareRule(t *testing.T) {
	from := midweekNoon
	before := from.Add(-time.Hour)

	tests := []struct {
		name   string
		modify func(r *domain.FareRule)
		ok     bool
	}{
		{"valid", func(r *domain.FareRule) {}, true},
		{"max below min", func(r *domain.FareRule) { r.MinimumFare, r.MaximumFare = 500, 100 }, false},
		{"negative base", func(r *domain.FareRule) { r.BaseFare = -1 }, false},
		{"negative multiplier", func(r *domain.FareRule) { r.WeekendMultiplier = -1 }, false},
		{"zero weather multiplier", func(r *domain.FareRule) { r.WeatherMultipliers = map[string]float64{"rain": 0} }, false},
		{"bad peak window", func(r *domain.FareRule) {
			r.PeakMultiplier = 1.5
			r.PeakWindows = []domain.PeakWindow{{Start: "25:00", End: "10:00"}}
		}, false},
		{"peak multiplier without window", func(r *domain.FareRule) { r.PeakMultiplier = 1.5 }, false},
		{"until before from", func(r *domain.FareRule) { r.EffectiveFrom = from; r.EffectiveUntil = &before }, false},
		{"zero discount", func(r *domain.FareRule) { r.Discounts = []domain.Discount{{Name: "x", Value: 0}} }, false},
		{"unknown mode", func(r *domain.FareRule) { r.Mode = "ferry" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := busRule(100, 40)
			tt.modify(&r)
			err := usecases.ValidateFareRule(&r)
			if tt.ok && err != nil {
				t.Fatalf("expected valid rule, got %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrInvalidFareRule) {
				t.Fatalf("expected ErrInvalidFareRule, got %v", err)
			}
		})
	}
}

func TestSaveRule_InvalidatesCache(t *testing.T) {
	repo := &mockFareRuleRepo{}
	cache := newMemCache()
	e := usecases.NewFareEngine(repo, newMockFeedbackRepo(), nil, cache, usecases.DefaultFareOptions())
	e.SetClock(func() time.Time { return midweekNoon })

	// Prime the rule cache with the default rule.
	if est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 3}); err != nil || est.RuleID != "default:bus" {
		t.Fatalf("unexpected first estimate %+v, %v", est, err)
	}

	rule := busRule(100, 50)
	rule.ID = ""
	if err := e.SaveRule(context.Background(), &rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.ID == "" || rule.CreatedAt.IsZero() {
		t.Errorf("expected generated ID and timestamp, got %+v", rule)
	}

	est, err := e.EstimateFare(context.Background(), domain.FareRequest{Mode: domain.ModeBus, DistanceKm: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if est.RuleID != rule.ID {
		t.Errorf("expected new rule %s after save, got %s", rule.ID, est.RuleID)
	}
}
