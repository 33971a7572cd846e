package status

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"nyl/internal/domain"
)

// ProviderSource reports the configured chat provider. It is satisfied by
// the settings stores in the repository package.
type ProviderSource interface {
	ProviderConfig(ctx context.Context) (domain.ProviderConfig, error)
}

type Options struct {
	Name              string
	Version           string
	HeartbeatInterval time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Service owns the device status shown on /v1/status and pushed over the
// WebSocket feed.
type Service struct {
	providers ProviderSource
	logger    *slog.Logger
	now       func() time.Time

	name      string
	version   string
	hostname  string
	startedAt time.Time
	interval  time.Duration

	mu         sync.RWMutex
	beats      int64
	lastBeatAt *time.Time
	weather    *domain.Weather
}

func NewService(providers ProviderSource, opts Options, logger *slog.Logger) (*Service, error) {
	if providers == nil {
		return nil, errors.New("status: provider source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	hostname, err := os.Hostname()
	if err != nil {
		logger.Warn("hostname unavailable", "err", err)
		hostname = "unknown"
	}
	return &Service{
		providers: providers,
		logger:    logger,
		now:       now,
		name:      opts.Name,
		version:   opts.Version,
		hostname:  hostname,
		startedAt: now().UTC(),
		interval:  opts.HeartbeatInterval,
	}, nil
}

// Snapshot builds the current status. A settings read failure reports the
// provider as none rather than failing the whole snapshot.
func (s *Service) Snapshot(ctx context.Context) domain.StatusSnapshot {
	provider := domain.ProviderNone
	if cfg, err := s.providers.ProviderConfig(ctx); err != nil {
		s.logger.WarnContext(ctx, "provider config unavailable for status", "err", err)
	} else if !cfg.Disabled() {
		provider = cfg.ActiveProvider
	}

	now := s.now().UTC()
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.StatusSnapshot{
		Server: domain.ServerInfo{
			Name:          s.name,
			Version:       s.version,
			Hostname:      s.hostname,
			StartedAt:     s.startedAt,
			UptimeSeconds: int64(now.Sub(s.startedAt) / time.Second),
			AIProvider:    provider,
		},
		Heartbeat: domain.HeartbeatInfo{
			IntervalSeconds: int64(s.interval / time.Second),
			Count:           s.beats,
		},
	}
	if s.lastBeatAt != nil {
		t := *s.lastBeatAt
		snap.Heartbeat.LastFiredAt = &t
	}
	if s.weather != nil {
		w := *s.weather
		snap.Weather = &w
	}
	return snap
}

// Event wraps a fresh snapshot in a StatusEvent of the given type.
func (s *Service) Event(ctx context.Context, typ domain.StatusEventType) domain.StatusEvent {
	snap := s.Snapshot(ctx)
	return domain.StatusEvent{
		Type:      typ,
		Timestamp: s.now().UTC(),
		Payload:   &snap,
	}
}

func (s *Service) SetWeather(w domain.Weather) {
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	s.weather = &w
	s.mu.Unlock()
}

func (s *Service) RecordHeartbeat(at time.Time) {
	at = at.UTC()
	s.mu.Lock()
	s.beats++
	s.lastBeatAt = &at
	s.mu.Unlock()
}
