// Package signals serves the backend's daily ranking and per-stock score
// history, with a short-lived Redis cache in front of the backend.
package signals

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"signalboard/internal/logger"
	"signalboard/internal/platform/engineapi"
	rds "signalboard/internal/platform/redis"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

const (
	DefaultMode  = "RISK_ON"
	DefaultLimit = 30
	MaxLimit     = 365
)

// ErrInvalidQuery wraps every bad date, mode, symbol or limit.
var ErrInvalidQuery = errors.New("invalid signals query")

var (
	modePattern   = regexp.MustCompile(`^[A-Z_]{1,32}$`)
	symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,16}$`)
)

type API interface {
	Top10(ctx context.Context, date time.Time, mode string) (engineapi.SignalResponse, error)
	StockScores(ctx context.Context, symbol string, limit int) ([]engineapi.ScoreDetail, error)
}

// Cache is satisfied by *redis.Service. Misses return redis.ErrCacheMiss.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest interface{}) error
	CacheSet(ctx context.Context, key string, val interface{}, ttl time.Duration) error
}

type Service struct {
	log   *logger.Logger
	api   API
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewService returns a Service. A nil cache or a zero ttl disables caching.
func NewService(api API, cache Cache, ttl time.Duration) *Service {
	return &Service{
		log:   logger.New("SignalsService"),
		api:   api,
		cache: cache,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Top10 returns the ranking for date (YYYY-MM-DD, today when empty) in the
// given regime mode (RISK_ON when empty).
func (s *Service) Top10(ctx context.Context, date, mode string) (engineapi.SignalResponse, error) {
	day, err := s.parseDay(date)
	if err != nil {
		return engineapi.SignalResponse{}, err
	}
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode == "" {
		mode = DefaultMode
	}
	if !modePattern.MatchString(mode) {
		return engineapi.SignalResponse{}, fmt.Errorf("%w: mode %q", ErrInvalidQuery, mode)
	}

	key := fmt.Sprintf("signals:top10:%s:%s", day.Format(openapi_types.DateFormat), mode)
	var out engineapi.SignalResponse
	if s.cached(ctx, key, &out) {
		return out, nil
	}
	out, err = s.api.Top10(ctx, day, mode)
	if err != nil {
		return engineapi.SignalResponse{}, err
	}
	s.store(ctx, key, out)
	return out, nil
}

// StockHistory returns up to limit daily scores for symbol, newest first.
func (s *Service) StockHistory(ctx context.Context, symbol string, limit int) ([]engineapi.ScoreDetail, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(symbol) {
		return nil, fmt.Errorf("%w: symbol %q", ErrInvalidQuery, symbol)
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidQuery, MaxLimit)
	}

	key := fmt.Sprintf("signals:stock:%s:%d", symbol, limit)
	var out []engineapi.ScoreDetail
	if s.cached(ctx, key, &out) {
		return out, nil
	}
	out, err := s.api.StockScores(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []engineapi.ScoreDetail{}
	}
	s.store(ctx, key, out)
	return out, nil
}

func (s *Service) parseDay(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		y, m, d := s.now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse(openapi_types.DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrInvalidQuery, date)
	}
	return day, nil
}

func (s *Service) cached(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil || s.ttl <= 0 {
		return false
	}
	err := s.cache.CacheGet(ctx, key, dest)
	if err == nil {
		s.log.LogDebugf("cache hit %s", key)
		return true
	}
	if !errors.Is(err, rds.ErrCacheMiss) {
		s.log.LogWarnf("cache read %s: %v", key, err)
	}
	return false
}

func (s *Service) store(ctx context.Context, key string, val interface{}) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	if err := s.cache.CacheSet(ctx, key, val, s.ttl); err != nil {
		s.log.LogWarnf("cache write %s: %v", key, err)
	}
}
