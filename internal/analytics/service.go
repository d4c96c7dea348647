package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"licenseops/internal/caching"
	"licenseops/internal/models"
	"licenseops/internal/repositories"

	"github.com/jonboulle/clockwork"
)

const (
	day       = 24 * time.Hour
	week      = 7 * day
	limitsTTL = 15 * time.Minute
	reportTTL = 24 * time.Hour

	// activeUserWindow is the look-back for counting a user as currently active.
	activeUserWindow = 30 * day
)

// Dimension names used in limit events and violations.
const (
	DimensionUsers       = "users"
	DimensionStorage     = "storage"
	DimensionAPICalls    = "api_calls"
	DimensionAssessments = "assessments"
)

type EventLogger interface {
	LogEvent(ctx context.Context, event models.SystemEvent)
}

// LimitBreach is one usage dimension at or above its warning band.
type LimitBreach struct {
	Dimension  string
	Current    float64
	Limit      float64
	Percentage float64
	Severity   models.Severity
}

// UsageService computes tenant usage aggregates and compares them to license limits.
type UsageService struct {
	usage  repositories.UsageRepository
	events EventLogger
	cache  caching.CacheService
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewUsageService wires the usage analytics. cache may be nil.
func NewUsageService(usage repositories.UsageRepository, events EventLogger, cache caching.CacheService, clock clockwork.Clock, logger *slog.Logger) *UsageService {
	return &UsageService{
		usage:  usage,
		events: events,
		cache:  cache,
		clock:  clock,
		logger: logger,
	}
}

// AggregateDailyUsage builds the snapshot for the UTC calendar day containing date.
// Absent activity yields zeros and an empty feature set.
func (s *UsageService) AggregateDailyUsage(ctx context.Context, tenantID, licenseID string, date time.Time) (models.UsageSnapshot, error) {
	from := truncateDay(date)
	to := from.Add(day)

	snapshot := models.UsageSnapshot{TenantID: tenantID, LicenseID: licenseID, UsageDate: from}
	metrics, err := s.collect(ctx, tenantID, from, from, to)
	if err != nil {
		return snapshot, fmt.Errorf("aggregate usage for %s on %s: %w", tenantID, from.Format("2006-01-02"), err)
	}
	snapshot.UsageMetrics = metrics
	return snapshot, nil
}

// CurrentUsage is the live usage compared against limits: users active in the
// last 30 days, cumulative storage, and month-to-date counters.
func (s *UsageService) CurrentUsage(ctx context.Context, tenantID string) (models.UsageMetrics, error) {
	now := s.clock.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	metrics, err := s.collect(ctx, tenantID, now.Add(-activeUserWindow), monthStart, now)
	if err != nil {
		return metrics, fmt.Errorf("current usage for %s: %w", tenantID, err)
	}
	return metrics, nil
}

// collect runs the six point queries. Users are counted over [usersFrom, to).
func (s *UsageService) collect(ctx context.Context, tenantID string, usersFrom, from, to time.Time) (models.UsageMetrics, error) {
	var m models.UsageMetrics
	var err error

	if m.UsersActive, err = s.usage.CountActiveUsers(ctx, tenantID, usersFrom, to); err != nil {
		return m, fmt.Errorf("active users: %w", err)
	}
	if m.AssessmentsCreated, err = s.usage.CountAssessments(ctx, tenantID, from, to); err != nil {
		return m, fmt.Errorf("assessments: %w", err)
	}
	if m.ReportsGenerated, err = s.usage.CountReports(ctx, tenantID, from, to); err != nil {
		return m, fmt.Errorf("reports: %w", err)
	}
	if m.StorageUsedMb, err = s.usage.StorageUsedMb(ctx, tenantID, to); err != nil {
		return m, fmt.Errorf("storage: %w", err)
	}
	if m.APICallsMade, err = s.usage.CountAPICalls(ctx, tenantID, from, to); err != nil {
		return m, fmt.Errorf("api calls: %w", err)
	}
	if m.FeaturesUsed, err = s.usage.FeaturesUsed(ctx, tenantID, from, to); err != nil {
		return m, fmt.Errorf("features: %w", err)
	}
	if m.FeaturesUsed == nil {
		m.FeaturesUsed = []string{}
	}
	return m, nil
}

// Limits returns the active license limits, read through the cache when one is
// configured. A nil result means no active assignment.
func (s *UsageService) Limits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error) {
	if s.cache != nil {
		cached, err := s.cache.GetLimits(ctx, tenantID, licenseID)
		if err != nil {
			s.logger.Warn("limits cache read failed", "tenant_id", tenantID, "license_id", licenseID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	limits, err := s.usage.ActiveLimits(ctx, tenantID, licenseID)
	if err != nil {
		return nil, fmt.Errorf("load limits for %s/%s: %w", tenantID, licenseID, err)
	}
	if limits != nil && s.cache != nil {
		if err := s.cache.SetLimits(ctx, tenantID, licenseID, limits, limitsTTL); err != nil {
			s.logger.Warn("limits cache write failed", "tenant_id", tenantID, "license_id", licenseID, "error", err)
		}
	}
	return limits, nil
}

// CheckUsageLimits logs one usage_limit_warning event per breached dimension
// and returns the breaches.
func (s *UsageService) CheckUsageLimits(ctx context.Context, tenantID, licenseID string) ([]LimitBreach, error) {
	limits, err := s.Limits(ctx, tenantID, licenseID)
	if err != nil {
		return nil, err
	}
	if limits == nil {
		return nil, nil
	}

	current, err := s.CurrentUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	breaches := EvaluateLimits(*limits, current)
	for _, b := range breaches {
		s.events.LogEvent(ctx, models.SystemEvent{
			Type:      models.EventUsageLimitWarning,
			TenantID:  tenantID,
			LicenseID: licenseID,
			Severity:  b.Severity,
			Details: models.JSONB{
				"type":       b.Dimension,
				"current":    b.Current,
				"limit":      b.Limit,
				"percentage": b.Percentage,
			},
		})
	}
	return breaches, nil
}

type band struct {
	min      float64
	severity models.Severity
}

// Bands are checked highest first; the first match wins.
var limitBands = map[string][]band{
	DimensionUsers:       {{90, models.SeverityHigh}},
	DimensionStorage:     {{95, models.SeverityCritical}, {85, models.SeverityHigh}},
	DimensionAPICalls:    {{95, models.SeverityCritical}, {80, models.SeverityMedium}},
	DimensionAssessments: {{90, models.SeverityMedium}},
}

// EvaluateLimits maps usage against limits to warning bands. Dimensions are
// independent and a zero limit is unlimited.
func EvaluateLimits(limits models.LicenseLimits, usage models.UsageMetrics) []LimitBreach {
	checks := []struct {
		dimension string
		current   float64
		limit     float64
	}{
		{DimensionUsers, float64(usage.UsersActive), float64(limits.MaxUsers)},
		{DimensionStorage, usage.StorageUsedMb, limits.MaxStorageMb},
		{DimensionAPICalls, float64(usage.APICallsMade), float64(limits.MaxAPICalls)},
		{DimensionAssessments, float64(usage.AssessmentsCreated), float64(limits.MaxAssessments)},
	}

	var breaches []LimitBreach
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		pct := c.current / c.limit * 100
		for _, b := range limitBands[c.dimension] {
			if pct >= b.min {
				breaches = append(breaches, LimitBreach{
					Dimension:  c.dimension,
					Current:    c.current,
					Limit:      c.limit,
					Percentage: math.Round(pct*100) / 100,
					Severity:   b.severity,
				})
				break
			}
		}
	}
	return breaches
}

// GenerateWeeklyReport compares the last 7 days with the 7 days before.
func (s *UsageService) GenerateWeeklyReport(ctx context.Context, tenantID string) (*models.WeeklyReport, error) {
	end := s.clock.Now().UTC()
	if s.cache != nil {
		if cached, err := s.cache.GetWeeklyReport(ctx, tenantID, end); err == nil && cached != nil {
			return cached, nil
		}
	}

	start := end.Add(-week)
	current, err := s.usage.WindowMetrics(ctx, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("weekly metrics for %s: %w", tenantID, err)
	}
	previous, err := s.usage.WindowMetrics(ctx, tenantID, start.Add(-week), start)
	if err != nil {
		return nil, fmt.Errorf("previous weekly metrics for %s: %w", tenantID, err)
	}

	trends := models.UsageTrends{
		UsersGrowth:       CalculateGrowth(float64(previous.UsersActive), float64(current.UsersActive)),
		AssessmentsGrowth: CalculateGrowth(float64(previous.AssessmentsCreated), float64(current.AssessmentsCreated)),
		StorageGrowth:     CalculateGrowth(previous.StorageUsedMb, current.StorageUsedMb),
	}

	report := &models.WeeklyReport{
		TenantID:        tenantID,
		PeriodStart:     start,
		PeriodEnd:       end,
		Metrics:         current,
		Previous:        previous,
		Trends:          trends,
		Recommendations: Recommendations(current, trends),
	}

	if s.cache != nil {
		if err := s.cache.SetWeeklyReport(ctx, report, reportTTL); err != nil {
			s.logger.Warn("weekly report cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return report, nil
}

// CalculateGrowth returns the rounded percentage change. Growth from zero is
// 100% when anything appeared and 0% otherwise.
func CalculateGrowth(previous, current float64) int {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round((current - previous) / previous * 100))
}

func Recommendations(m models.UsageMetrics, t models.UsageTrends) []string {
	recs := []string{}

	if t.UsersGrowth > 50 {
		recs = append(recs, "Consider upgrading your user limit to accommodate rapid growth")
	} else if t.UsersGrowth < -20 {
		recs = append(recs, "User activity has decreased - consider user engagement initiatives")
	}

	if m.StorageUsedMb > 1000 {
		recs = append(recs, "Storage usage is high - consider archiving old files")
	}

	if m.AssessmentsCreated == 0 {
		recs = append(recs, "No assessments created this week - explore our assessment templates")
	} else if t.AssessmentsGrowth > 100 {
		recs = append(recs, "High assessment activity - consider workflow automation features")
	}

	if m.APICallsMade > 10000 {
		recs = append(recs, "High API usage detected - monitor for optimization opportunities")
	}
	return recs
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
