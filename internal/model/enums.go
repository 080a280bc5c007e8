// enums.go
//
// Finite value sets shared across services. Each type is string-backed so the
// JSON form matches the wire vocabulary; the SQL form is mapped explicitly in
// store/codec.go.
package model

// AccessType is the per-edge grant a user gives one of their followers.
type AccessType string

const (
	AccessPermanent     AccessType = "Permanent"
	AccessEmergencyOnly AccessType = "EmergencyOnly"
)

// Valid reports whether a is a known access type.
func (a AccessType) Valid() bool {
	return a == AccessPermanent || a == AccessEmergencyOnly
}

// UserState is the self-reported safety status of a user.
type UserState string

const (
	StateNormal    UserState = "Normal"
	StateEmergency UserState = "Emergency"
)

// Valid reports whether s is a known user state.
func (s UserState) Valid() bool {
	return s == StateNormal || s == StateEmergency
}

// CanSeeLocation is the single rule gating location visibility on a follower edge.
// Permanent edges always see; EmergencyOnly edges see only while the followed user is in Emergency.
func CanSeeLocation(access AccessType, state UserState) bool {
	switch access {
	case AccessPermanent:
		return true
	case AccessEmergencyOnly:
		return state == StateEmergency
	default:
		return false
	}
}

// InvitationState is the lifecycle of a friend invitation link.
// Only CREATED is non-terminal.
type InvitationState string

const (
	InvitationCreated  InvitationState = "CREATED"
	InvitationRejected InvitationState = "REJECTED"
	InvitationAccepted InvitationState = "ACCEPTED"
	InvitationExpired  InvitationState = "EXPIRED"
)

// Valid reports whether s is a known invitation state.
func (s InvitationState) Valid() bool {
	switch s {
	case InvitationCreated, InvitationRejected, InvitationAccepted, InvitationExpired:
		return true
	}
	return false
}

// CommandState tracks a force-refresh request. Completed and Error are terminal.
type CommandState string

const (
	CommandCreated   CommandState = "Created"
	CommandCompleted CommandState = "Completed"
	CommandError     CommandState = "Error"
)

// Valid reports whether s is a known command state.
func (s CommandState) Valid() bool {
	return s == CommandCreated || s == CommandCompleted || s == CommandError
}

// CommandType names the action a device is asked to perform.
type CommandType string

const CommandRefreshTelemetry CommandType = "RefreshTelemetry"

// OS is the platform of a registered device. Push payload shape depends on it.
type OS string

const (
	OSAndroid OS = "Android"
	OSiOS     OS = "iOS"
	OSUnknown OS = "UNKNOWN"
)

// AppState is the foreground/background state reported with telemetry.
type AppState string

const (
	AppBackground AppState = "Background"
	AppForeground AppState = "Foreground"
	AppUnknown    AppState = "UNKNOWN"
)

// Valid reports whether s is a known app state.
func (s AppState) Valid() bool {
	switch s {
	case AppBackground, AppForeground, AppUnknown:
		return true
	}
	return false
}

// ChargingState is the power source reported with telemetry.
type ChargingState string

const (
	ChargingUsb     ChargingState = "ChargingUsb"
	ChargingAc      ChargingState = "ChargingAc"
	NotCharging     ChargingState = "NotCharging"
	ChargingUnknown ChargingState = "UNKNOWN"
)

// Valid reports whether s is a known charging state.
func (s ChargingState) Valid() bool {
	switch s {
	case ChargingUsb, ChargingAc, NotCharging, ChargingUnknown:
		return true
	}
	return false
}

// LocationPermissionState is the OS location permission granted to the app.
type LocationPermissionState string

const (
	PermissionAlways  LocationPermissionState = "ALWAYS"
	PermissionUsing   LocationPermissionState = "USING"
	PermissionAsk     LocationPermissionState = "ASK"
	PermissionNever   LocationPermissionState = "NEVER"
	PermissionUnknown LocationPermissionState = "UNKNOWN"
)

// Valid reports whether p is a known permission state.
func (p LocationPermissionState) Valid() bool {
	switch p {
	case PermissionAlways, PermissionUsing, PermissionAsk, PermissionNever, PermissionUnknown:
		return true
	}
	return false
}
