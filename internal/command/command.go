// Package command implements the force-refresh protocol: a tracked request
// asking every device of a user to report fresh telemetry, answered when the
// device's next telemetry batch echoes the correlation id.
package command

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MGallo-Code/argus/internal/apperr"
	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/notify"
	"github.com/MGallo-Code/argus/internal/store"
	"github.com/gofrs/uuid/v5"
)

// Error strings returned inside a CommandResponse.
const (
	ErrSendFailed = "Failed to send the notification"
	ErrSecurity   = "security"
)

// Store is the subset of store operations the command service needs.
// Satisfied by *store.PostgresStore, defined here (at consumer) per Go convention.
type Store interface {
	CreateCommand(ctx context.Context, cmd model.Command) error
	CloseCommand(ctx context.Context, correlationID string, state model.CommandState) error
	IsFollower(ctx context.Context, username, follower string) (bool, error)
	DevicesFor(ctx context.Context, username string) ([]model.Device, error)
}

// Publisher sends a notification batch. Satisfied by *notify.Publisher.
type Publisher interface {
	Publish(ctx context.Context, batch any) error
}

// Service issues and resolves refresh commands.
type Service struct {
	store     Store
	publisher Publisher
}

// NewService returns a Service.
func NewService(s Store, p Publisher) *Service {
	return &Service{store: s, publisher: p}
}

// Issue records a Created command from requester to recipient and sends a
// silent refresh to each of recipient's devices in one message.
// A publish failure closes the command as Error and is reported in the response,
// not as an error. Only a failure to record the command returns an error.
func (s *Service) Issue(ctx context.Context, requester, recipient string) (model.CommandResponse, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.CommandResponse{}, apperr.Backend(err)
	}
	correlationID := id.String()

	err = s.store.CreateCommand(ctx, model.Command{
		CorrelationID:     correlationID,
		Username:          requester,
		RecipientUsername: recipient,
		Type:              model.CommandRefreshTelemetry,
		State:             model.CommandCreated,
	})
	if err != nil {
		return model.CommandResponse{}, apperr.Database(err)
	}

	resp := model.CommandResponse{CorrelationID: &correlationID, CommandStatus: model.CommandCreated}

	devices, err := s.store.DevicesFor(ctx, recipient)
	if err != nil {
		return s.fail(ctx, resp, err)
	}
	if len(devices) == 0 {
		slog.Debug("refresh target has no devices", "recipient", recipient, "correlation_id", correlationID)
		return resp, nil
	}
	if err := s.publisher.Publish(ctx, notify.RefreshPayloads(devices, correlationID, requester)); err != nil {
		return s.fail(ctx, resp, err)
	}
	return resp, nil
}

// fail closes the command as Error and returns the failed response.
func (s *Service) fail(ctx context.Context, resp model.CommandResponse, cause error) (model.CommandResponse, error) {
	slog.Warn("refresh notification not sent", "correlation_id", *resp.CorrelationID, "error", cause)
	if err := s.store.CloseCommand(ctx, *resp.CorrelationID, model.CommandError); err != nil {
		slog.Error("closing failed command", "correlation_id", *resp.CorrelationID, "error", err)
	}
	msg := ErrSendFailed
	resp.CommandStatus = model.CommandError
	resp.Error = &msg
	return resp, nil
}

// Refresh is the on-demand variant: requester must follow recipient.
// A non-follower gets an Error response carrying ErrSecurity, and no command is recorded.
func (s *Service) Refresh(ctx context.Context, requester, recipient string) (model.CommandResponse, error) {
	ok, err := s.store.IsFollower(ctx, recipient, requester)
	if err != nil {
		return model.CommandResponse{}, apperr.Database(err)
	}
	if !ok {
		msg := ErrSecurity
		return model.CommandResponse{CommandStatus: model.CommandError, Error: &msg}, nil
	}
	return s.Issue(ctx, requester, recipient)
}

// Complete marks a Created command Completed. Unknown, malformed or already
// closed ids are ignored; only infrastructure failures are returned.
func (s *Service) Complete(ctx context.Context, correlationID string) error {
	err := s.store.CloseCommand(ctx, correlationID, model.CommandCompleted)
	if errors.Is(err, store.ErrStateUnchanged) {
		slog.Debug("no open command to complete", "correlation_id", correlationID)
		return nil
	}
	return err
}

// Sync asks both users' devices to refresh toward each other, so new friends
// see each other's location without waiting for the next regular report.
func (s *Service) Sync(ctx context.Context, a, b string) error {
	var errs []error
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		resp, err := s.Issue(ctx, pair[0], pair[1])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if resp.CommandStatus == model.CommandError {
			slog.Warn("sync refresh failed", "requester", pair[0], "recipient", pair[1])
		}
	}
	return errors.Join(errs...)
}
