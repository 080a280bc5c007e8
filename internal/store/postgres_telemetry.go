// postgres_telemetry.go -- Durable telemetry rows and force-refresh commands.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// InsertTelemetry appends one telemetry row stamped with the database clock.
func (s *PostgresStore) InsertTelemetry(ctx context.Context, rec model.TelemetryRecord) error {
	appState, err := appStateCodec.encode(rec.AppState)
	if err != nil {
		return err
	}
	charging, err := chargingStateCodec.encode(rec.ChargingState)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO device_telemetry
			(username, device_id, recipient_username, encrypted_location, creation_timestamp,
			 app_state, charging_state, battery_level, is_charging)
		VALUES ($1, $2, $3, $4, now(), $5::app_state, $6::charging_state, $7, $8)
	`, rec.Username, rec.DeviceID, rec.RecipientUsername, rec.EncryptedLocation,
		appState, charging, rec.BatteryLevel, rec.IsCharging)
	if err != nil {
		return fmt.Errorf("inserting telemetry: %w", err)
	}
	return nil
}

// HistoricalLocations returns telemetry owner sent to recipient strictly between start and end,
// oldest first.
func (s *PostgresStore) HistoricalLocations(ctx context.Context, owner, recipient string, start, end time.Time) ([]model.Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT encrypted_location, device_id, creation_timestamp
		FROM device_telemetry
		WHERE username = $1 AND recipient_username = $2
			AND creation_timestamp > $3 AND creation_timestamp < $4
		ORDER BY creation_timestamp ASC
	`, owner, recipient, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying historical locations: %w", err)
	}
	locations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Location, error) {
		var l model.Location
		err := row.Scan(&l.Data, &l.DeviceID, &l.Timestamp)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning historical locations: %w", err)
	}
	return locations, nil
}

// CreateCommand inserts a new command row. The caller generates the correlation id.
func (s *PostgresStore) CreateCommand(ctx context.Context, cmd model.Command) error {
	id, err := uuid.FromString(cmd.CorrelationID)
	if err != nil {
		return fmt.Errorf("parsing correlation id: %w", err)
	}
	cmdType, err := commandTypeCodec.encode(cmd.Type)
	if err != nil {
		return err
	}
	state, err := commandStateCodec.encode(cmd.State)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO commands (username, recipient_username, request_timestamp, correlation_id, type, state)
		VALUES ($1, $2, now(), $3, $4::command_type, $5::command_state)
	`, cmd.Username, cmd.RecipientUsername, id, cmdType, state)
	if err != nil {
		return fmt.Errorf("inserting command: %w", err)
	}
	return nil
}

// CloseCommand moves a Created command to a terminal state and stamps the response time.
// Returns ErrStateUnchanged if no Created command has that correlation id.
func (s *PostgresStore) CloseCommand(ctx context.Context, correlationID string, state model.CommandState) error {
	id, err := uuid.FromString(correlationID)
	if err != nil {
		// Clients echo whatever they were sent; a malformed id can't match anything.
		return ErrStateUnchanged
	}
	st, err := commandStateCodec.encode(state)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE commands
		SET response_timestamp = now(), state = $1::command_state
		WHERE correlation_id = $2 AND state = 'Created'
	`, st, id)
	if err != nil {
		return fmt.Errorf("closing command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateUnchanged
	}
	return nil
}

// Command fetches one command by correlation id.
// Returns ErrNotFound if there is none.
func (s *PostgresStore) Command(ctx context.Context, correlationID string) (*model.Command, error) {
	id, err := uuid.FromString(correlationID)
	if err != nil {
		return nil, ErrNotFound
	}
	var cmd model.Command
	var dbID uuid.UUID
	var cmdType, state string
	err = s.pool.QueryRow(ctx, `
		SELECT correlation_id, username, recipient_username, type::text, state::text,
			request_timestamp, response_timestamp
		FROM commands WHERE correlation_id = $1
	`, id).Scan(&dbID, &cmd.Username, &cmd.RecipientUsername, &cmdType, &state,
		&cmd.RequestTimestamp, &cmd.ResponseTimestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching command: %w", err)
	}
	cmd.CorrelationID = dbID.String()
	if cmd.Type, err = commandTypeCodec.decode(cmdType); err != nil {
		return nil, err
	}
	if cmd.State, err = commandStateCodec.decode(state); err != nil {
		return nil, err
	}
	return &cmd, nil
}
