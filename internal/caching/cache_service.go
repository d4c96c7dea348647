package caching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"licenseops/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "licenseops"

type CacheService interface {
	GetLimits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error)
	SetLimits(ctx context.Context, tenantID, licenseID string, limits *models.LicenseLimits, ttl time.Duration) error
	DeleteLimits(ctx context.Context, tenantID, licenseID string) error

	GetWeeklyReport(ctx context.Context, tenantID string, periodEnd time.Time) (*models.WeeklyReport, error)
	SetWeeklyReport(ctx context.Context, report *models.WeeklyReport, ttl time.Duration) error

	Ping(ctx context.Context) error
}

type redisCacheService struct {
	client redis.UniversalClient
}

// NewRedisClient accepts either host:port or a redis:// URL.
func NewRedisClient(addr, password string, db int, logger *slog.Logger) *redis.Client {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		if opts, err := redis.ParseURL(addr); err == nil {
			if password != "" {
				opts.Password = password
			}
			return redis.NewClient(opts)
		}
		logger.Warn("invalid redis url, using it as address", "addr", addr)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed on initialization", "addr", addr, "error", err)
	}
	return client
}

func NewRedisCacheService(client redis.UniversalClient) CacheService {
	return &redisCacheService{client: client}
}

func limitsKey(tenantID, licenseID string) string {
	return fmt.Sprintf("%s:limits:%s:%s", keyPrefix, tenantID, licenseID)
}

func weeklyReportKey(tenantID string, periodEnd time.Time) string {
	return fmt.Sprintf("%s:weekly:%s:%s", keyPrefix, tenantID, periodEnd.UTC().Format("2006-01-02"))
}

func (r *redisCacheService) GetLimits(ctx context.Context, tenantID, licenseID string) (*models.LicenseLimits, error) {
	var limits models.LicenseLimits
	ok, err := r.getJSON(ctx, limitsKey(tenantID, licenseID), &limits)
	if err != nil || !ok {
		return nil, err
	}
	return &limits, nil
}

func (r *redisCacheService) SetLimits(ctx context.Context, tenantID, licenseID string, limits *models.LicenseLimits, ttl time.Duration) error {
	return r.setJSON(ctx, limitsKey(tenantID, licenseID), limits, ttl)
}

func (r *redisCacheService) DeleteLimits(ctx context.Context, tenantID, licenseID string) error {
	return r.client.Del(ctx, limitsKey(tenantID, licenseID)).Err()
}

func (r *redisCacheService) GetWeeklyReport(ctx context.Context, tenantID string, periodEnd time.Time) (*models.WeeklyReport, error) {
	var report models.WeeklyReport
	ok, err := r.getJSON(ctx, weeklyReportKey(tenantID, periodEnd), &report)
	if err != nil || !ok {
		return nil, err
	}
	return &report, nil
}

func (r *redisCacheService) SetWeeklyReport(ctx context.Context, report *models.WeeklyReport, ttl time.Duration) error {
	return r.setJSON(ctx, weeklyReportKey(report.TenantID, report.PeriodEnd), report, ttl)
}

func (r *redisCacheService) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// getJSON reports false on a cache miss.
func (r *redisCacheService) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (r *redisCacheService) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}
