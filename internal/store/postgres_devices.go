// postgres_devices.go -- Device directory queries.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/jackc/pgx/v5"
)

const deviceColumns = `device_id, username, os::text, location_permission_state::text,
	is_notifications_enabled, is_background_refresh_on, is_location_services_on,
	is_power_save_mode_on, os_version, app_version`

func scanDevice(row pgx.Row) (model.Device, error) {
	var d model.Device
	var os, perm string
	if err := row.Scan(&d.DeviceID, &d.Username, &os, &perm,
		&d.IsNotificationsEnabled, &d.IsBackgroundRefreshOn, &d.IsLocationServicesOn,
		&d.IsPowerSaveModeOn, &d.OSVersion, &d.AppVersion); err != nil {
		return d, err
	}
	var err error
	if d.OS, err = osCodec.decode(os); err != nil {
		return d, err
	}
	d.LocationPermissionState, err = permissionCodec.decode(perm)
	return d, err
}

// DevicesFor returns every device owned by username. No devices is an empty slice, not an error.
func (s *PostgresStore) DevicesFor(ctx context.Context, username string) ([]model.Device, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE username = $1 ORDER BY device_id",
		username)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Device, error) {
		return scanDevice(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning devices: %w", err)
	}
	return devices, nil
}

// Device fetches one device by id. Returns ErrNotFound if it is not registered.
func (s *PostgresStore) Device(ctx context.Context, deviceID string) (*model.Device, error) {
	d, err := scanDevice(s.pool.QueryRow(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE device_id = $1", deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching device: %w", err)
	}
	return &d, nil
}

// UpdateDeviceSettings overwrites the client-reported settings of a device owned by username.
// Returns ErrStateUnchanged if no such device belongs to username.
func (s *PostgresStore) UpdateDeviceSettings(ctx context.Context, username, deviceID string, settings model.DeviceSettings) error {
	perm, err := permissionCodec.encode(settings.LocationPermissionState)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE devices SET
			location_permission_state = $1::location_permission_state,
			is_notifications_enabled = $2,
			is_background_refresh_on = $3,
			is_location_services_on = $4,
			is_power_save_mode_on = $5,
			os_version = $6,
			app_version = $7,
			updated_at = now()
		WHERE device_id = $8 AND username = $9
	`, perm, settings.IsNotificationsEnabled, settings.IsBackgroundRefreshOn, settings.IsLocationServicesOn,
		settings.IsPowerSaveModeOn, settings.OSVersion, settings.AppVersion, deviceID, username)
	if err != nil {
		return fmt.Errorf("updating device settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateUnchanged
	}
	return nil
}
