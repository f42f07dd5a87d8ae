package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
)

var (
	// ErrNoActiveSource is returned when an operation needs a selected source and there is none.
	ErrNoActiveSource = errors.New("no active source")
	// ErrNoCallback is returned when the active source has nowhere to receive commands.
	ErrNoCallback = errors.New("active source has no callback url")
	// ErrInvalidComponent is returned for component names that cannot be parsed.
	ErrInvalidComponent = errors.New("invalid component name")
	// ErrInvalidCallback is returned for callback URLs that are not absolute http(s) URLs.
	ErrInvalidCallback = errors.New("invalid callback url")
)

// SourceRegistry selects and lists sources.
type SourceRegistry interface {
	GetCurrent(ctx context.Context) (*domain.Source, error)
	Select(ctx context.Context, name, callbackURL string) (*domain.Source, error)
	List(ctx context.Context) ([]domain.Source, error)
}

// SourceManagerConfig holds configuration for the source manager
type SourceManagerConfig struct {
	CommandTimeout time.Duration
}

// SourceManager switches the active source and relays commands to it.
type SourceManager struct {
	sources SourceRegistry
	client  *resty.Client
	logger  *logger.Logger
}

// NewSourceManager creates a new source manager
func NewSourceManager(sources SourceRegistry, log *logger.Logger, cfg *SourceManagerConfig) *SourceManager {
	client := resty.New()
	if cfg != nil && cfg.CommandTimeout > 0 {
		client.SetTimeout(cfg.CommandTimeout)
	}
	client.SetHeader("Content-Type", "application/json")
	return &SourceManager{
		sources: sources,
		client:  client,
		logger:  log,
	}
}

// Current returns the active source, or ErrNoActiveSource.
func (m *SourceManager) Current(ctx context.Context) (*domain.Source, error) {
	src, err := m.sources.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current source: %w", err)
	}
	if src == nil {
		return nil, ErrNoActiveSource
	}
	return src, nil
}

// List returns every known source.
func (m *SourceManager) List(ctx context.Context) ([]domain.Source, error) {
	return m.sources.List(ctx)
}

// SelectSource registers a source and makes it the only active one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - component: component name, full or short form.
//   - callbackURL: where commands for the source are posted; may be empty.
// Returns:
//   - *domain.Source: the now active source.
//   - error: ErrInvalidComponent, ErrInvalidCallback, or a store failure.
func (m *SourceManager) SelectSource(ctx context.Context, component, callbackURL string) (*domain.Source, error) {
	name, err := domain.ParseComponentName(component)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidComponent, err)
	}
	if callbackURL != "" {
		u, err := url.Parse(callbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCallback, callbackURL)
		}
	}

	src, err := m.sources.Select(ctx, name.FlattenToString(), callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to select source: %w", err)
	}
	logger.FromContext(ctx).WithField(logger.FieldSource, src.ComponentName).Info("Source selected")
	return src, nil
}

// SendAction posts a command to the active source's callback URL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - commandID: command to run; see protocol.BuiltinCommandIDNextArtwork.
// Returns:
//   - error: ErrNoActiveSource, ErrNoCallback, or a delivery failure.
func (m *SourceManager) SendAction(ctx context.Context, commandID int) error {
	src, err := m.Current(ctx)
	if err != nil {
		return err
	}
	if src.CallbackURL == "" {
		return ErrNoCallback
	}

	req := protocol.CommandRequest{
		Action:    protocol.ActionHandleCommand,
		Token:     src.Token(),
		CommandID: commandID,
	}
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(src.CallbackURL)
	if err != nil {
		return fmt.Errorf("failed to send command %d to %s: %w", commandID, src.ComponentName, err)
	}
	if resp.IsError() {
		return fmt.Errorf("source %s rejected command %d: status %d", src.ComponentName, commandID, resp.StatusCode())
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSource: src.ComponentName,
		"command_id":       commandID,
	}).Info("Command sent to source")
	return nil
}

// NextArtwork asks the active source to publish its next artwork.
func (m *SourceManager) NextArtwork(ctx context.Context) error {
	return m.SendAction(ctx, protocol.BuiltinCommandIDNextArtwork)
}
