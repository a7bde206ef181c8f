package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/korope-ng/korope/internal/core/domain"
)

// FareRuleRepo implements ports.FareRuleRepository.
type FareRuleRepo struct {
	db *DB
}

// NewFareRuleRepo creates a new FareRuleRepo.
func NewFareRuleRepo(db *DB) *FareRuleRepo {
	return &FareRuleRepo{db: db}
}

// fareRuleExtras holds the rule fields stored as a single jsonb document.
type fareRuleExtras struct {
	PeakWindows        []domain.PeakWindow `json:"peak_windows,omitempty"`
	WeatherMultipliers map[string]float64  `json:"weather_multipliers,omitempty"`
	AdditionalCharges  []domain.Charge     `json:"additional_charges,omitempty"`
	Discounts          []domain.Discount   `json:"discounts,omitempty"`
}

// Create inserts a fare rule.
func (r *FareRuleRepo) Create(ctx context.Context, rule *domain.FareRule) error {
	extras, err := json.Marshal(fareRuleExtras{
		PeakWindows:        rule.PeakWindows,
		WeatherMultipliers: rule.WeatherMultipliers,
		AdditionalCharges:  rule.AdditionalCharges,
		Discounts:          rule.Discounts,
	})
	if err != nil {
		return err
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO fare_rules (id, mode, city, state, fare_type, base_fare, per_km_rate, per_minute_rate,
		                        minimum_fare, maximum_fare, peak_multiplier, weekend_multiplier, holiday_multiplier,
		                        fuel_surcharge_flat, fuel_surcharge_percent, extras,
		                        effective_from, effective_until, priority, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, rule.ID, string(rule.Mode), rule.City, rule.State, string(rule.FareType),
		rule.BaseFare, rule.PerKmRate, rule.PerMinuteRate, rule.MinimumFare, rule.MaximumFare,
		rule.PeakMultiplier, rule.WeekendMultiplier, rule.HolidayMultiplier,
		rule.FuelSurchargeFlat, rule.FuelSurchargePercent, extras,
		rule.EffectiveFrom, rule.EffectiveUntil, rule.Priority, rule.Active, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fare rule: %w", err)
	}
	return nil
}

// ListActive returns active rules for a mode, or for every mode when mode is empty.
func (r *FareRuleRepo) ListActive(ctx context.Context, mode domain.TransportMode) ([]domain.FareRule, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, mode, COALESCE(city, ''), COALESCE(state, ''), fare_type,
		       base_fare, per_km_rate, per_minute_rate, minimum_fare, maximum_fare,
		       peak_multiplier, weekend_multiplier, holiday_multiplier,
		       fuel_surcharge_flat, fuel_surcharge_percent, extras,
		       effective_from, effective_until, priority, active, created_at
		FROM fare_rules
		WHERE active AND ($1 = '' OR mode = $1)
		ORDER BY priority DESC, created_at DESC
	`, string(mode))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.FareRule
	for rows.Next() {
		var (
			rule           domain.FareRule
			ruleMode, kind string
			extras         []byte
		)
		if err := rows.Scan(
			&rule.ID, &ruleMode, &rule.City, &rule.State, &kind,
			&rule.BaseFare, &rule.PerKmRate, &rule.PerMinuteRate, &rule.MinimumFare, &rule.MaximumFare,
			&rule.PeakMultiplier, &rule.WeekendMultiplier, &rule.HolidayMultiplier,
			&rule.FuelSurchargeFlat, &rule.FuelSurchargePercent, &extras,
			&rule.EffectiveFrom, &rule.EffectiveUntil, &rule.Priority, &rule.Active, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rule.Mode = domain.TransportMode(ruleMode)
		rule.FareType = domain.FareType(kind)

		var x fareRuleExtras
		if len(extras) > 0 {
			if err := json.Unmarshal(extras, &x); err != nil {
				return nil, fmt.Errorf("decode fare rule %s: %w", rule.ID, err)
			}
		}
		rule.PeakWindows = x.PeakWindows
		rule.WeatherMultipliers = x.WeatherMultipliers
		rule.AdditionalCharges = x.AdditionalCharges
		rule.Discounts = x.Discounts

		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// FareFeedbackRepo implements ports.FareFeedbackRepository.
type FareFeedbackRepo struct {
	db *DB
}

// NewFareFeedbackRepo creates a new FareFeedbackRepo.
func NewFareFeedbackRepo(db *DB) *FareFeedbackRepo {
	return &FareFeedbackRepo{db: db}
}

// Create inserts a fare observation.
func (r *FareFeedbackRepo) Create(ctx context.Context, fb *domain.FareFeedback) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO fare_feedback (id, user_id, mode, route_id, segment_id, city, state, amount, distance_km,
		                           trip_date, verification_score, flags, verified, disputed, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, fb.ID, fb.UserID, string(fb.Mode), fb.RouteID, fb.SegmentID, fb.City, fb.State, fb.Amount, fb.DistanceKm,
		fb.TripDate, fb.VerificationScore, fb.Flags, fb.Verified, fb.Disputed, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fare feedback: %w", err)
	}
	return nil
}

// GetByID returns a fare observation.
func (r *FareFeedbackRepo) GetByID(ctx context.Context, id string) (*domain.FareFeedback, error) {
	var (
		fb   domain.FareFeedback
		mode string
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, mode, COALESCE(route_id, ''), COALESCE(segment_id, ''),
		       COALESCE(city, ''), COALESCE(state, ''), amount, distance_km, trip_date,
		       verification_score, COALESCE(flags, '{}'), verified, disputed, created_at
		FROM fare_feedback WHERE id = $1
	`, id).Scan(
		&fb.ID, &fb.UserID, &mode, &fb.RouteID, &fb.SegmentID,
		&fb.City, &fb.State, &fb.Amount, &fb.DistanceKm, &fb.TripDate,
		&fb.VerificationScore, &fb.Flags, &fb.Verified, &fb.Disputed, &fb.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	fb.Mode = domain.TransportMode(mode)
	return &fb, nil
}

// Stats aggregates verified, undisputed observations for a route or a
// segment, optionally narrowed to one mode. A query naming neither route
// nor segment has no sample.
func (r *FareFeedbackRepo) Stats(ctx context.Context, q domain.FeedbackQuery) (domain.FeedbackStats, error) {
	var (
		stats domain.FeedbackStats
		avg   *float64
	)
	if q.RouteID == "" && q.SegmentID == "" {
		return stats, nil
	}
	since := q.Since
	if since.IsZero() {
		since = time.Unix(0, 0)
	}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), AVG(amount)
		FROM fare_feedback
		WHERE verified AND NOT disputed
		  AND ($1 = '' OR mode = $1)
		  AND ($2 = '' OR route_id = $2)
		  AND ($3 = '' OR segment_id = $3)
		  AND trip_date >= $4
	`, string(q.Mode), q.RouteID, q.SegmentID, since).Scan(&stats.Count, &avg)
	if err != nil {
		return stats, err
	}
	if avg != nil {
		stats.Average = *avg
	}
	return stats, nil
}

// MarkVerified accepts an observation.
func (r *FareFeedbackRepo) MarkVerified(ctx context.Context, id string) error {
	return r.mark(ctx, `UPDATE fare_feedback SET verified = true WHERE id = $1`, id)
}

// MarkDisputed excludes an observation from estimates.
func (r *FareFeedbackRepo) MarkDisputed(ctx context.Context, id string) error {
	return r.mark(ctx, `UPDATE fare_feedback SET disputed = true, verified = false WHERE id = $1`, id)
}

func (r *FareFeedbackRepo) mark(ctx context.Context, sql, id string) error {
	tag, err := r.db.Pool.Exec(ctx, sql, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
