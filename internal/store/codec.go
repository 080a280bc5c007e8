// codec.go -- Explicit enum <-> SQL text mapping.
//
// Postgres enum columns are read as ::text and written through ::<type> casts,
// so pgx never needs to know the enum OIDs. Every value crossing the boundary
// goes through one of these codecs; an unknown value is an error, never a default.
package store

import (
	"fmt"

	"github.com/MGallo-Code/argus/internal/model"
)

type enumCodec[T ~string] struct {
	name    string
	toSQL   map[T]string
	fromSQL map[string]T
}

func newEnumCodec[T ~string](name string, pairs map[T]string) enumCodec[T] {
	c := enumCodec[T]{name: name, toSQL: pairs, fromSQL: make(map[string]T, len(pairs))}
	for v, s := range pairs {
		c.fromSQL[s] = v
	}
	return c
}

func (c enumCodec[T]) encode(v T) (string, error) {
	s, ok := c.toSQL[v]
	if !ok {
		return "", fmt.Errorf("encoding %s: unknown value %q", c.name, string(v))
	}
	return s, nil
}

func (c enumCodec[T]) decode(s string) (T, error) {
	v, ok := c.fromSQL[s]
	if !ok {
		var zero T
		return zero, fmt.Errorf("decoding %s: unknown value %q", c.name, s)
	}
	return v, nil
}

var (
	accessTypeCodec = newEnumCodec("access_type", map[model.AccessType]string{
		model.AccessPermanent:     "Permanent",
		model.AccessEmergencyOnly: "EmergencyOnly",
	})
	userStateCodec = newEnumCodec("user_state", map[model.UserState]string{
		model.StateNormal:    "Normal",
		model.StateEmergency: "Emergency",
	})
	invitationStateCodec = newEnumCodec("invitation_state", map[model.InvitationState]string{
		model.InvitationCreated:  "CREATED",
		model.InvitationRejected: "REJECTED",
		model.InvitationAccepted: "ACCEPTED",
		model.InvitationExpired:  "EXPIRED",
	})
	commandStateCodec = newEnumCodec("command_state", map[model.CommandState]string{
		model.CommandCreated:   "Created",
		model.CommandCompleted: "Completed",
		model.CommandError:     "Error",
	})
	commandTypeCodec = newEnumCodec("command_type", map[model.CommandType]string{
		model.CommandRefreshTelemetry: "RefreshTelemetry",
	})
	osCodec = newEnumCodec("os", map[model.OS]string{
		model.OSAndroid: "Android",
		model.OSiOS:     "iOS",
		model.OSUnknown: "UNKNOWN",
	})
	appStateCodec = newEnumCodec("app_state", map[model.AppState]string{
		model.AppBackground: "Background",
		model.AppForeground: "Foreground",
		model.AppUnknown:    "UNKNOWN",
	})
	chargingStateCodec = newEnumCodec("charging_state", map[model.ChargingState]string{
		model.ChargingUsb:     "ChargingUsb",
		model.ChargingAc:      "ChargingAc",
		model.NotCharging:     "NotCharging",
		model.ChargingUnknown: "UNKNOWN",
	})
	permissionCodec = newEnumCodec("location_permission_state", map[model.LocationPermissionState]string{
		model.PermissionAlways:  "ALWAYS",
		model.PermissionUsing:   "USING",
		model.PermissionAsk:     "ASK",
		model.PermissionNever:   "NEVER",
		model.PermissionUnknown: "UNKNOWN",
	})
)
