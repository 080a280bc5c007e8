// Package model holds the domain types shared by the services.
// Nothing here knows about Postgres, Redis or the broker.
package model

import "time"

// TelemetryTimeFormat is the timestamp layout stamped on cached and live telemetry.
const TelemetryTimeFormat = "2006-01-02T15:04:05.000Z"

// Identity is the authenticated caller, as asserted by the upstream auth proxy.
type Identity struct {
	Username string
	DeviceID string
	Language string
}

// UserDetails is the public identity of a user. Nullable columns are pointers.
type UserDetails struct {
	Username    string  `json:"username"`
	FirstName   string  `json:"firstName"`
	LastName    string  `json:"lastName"`
	Email       *string `json:"email,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	Picture     *string `json:"picture,omitempty"`
	Language    *string `json:"language,omitempty"`
}

// Lang returns the user's language or "en" when unset.
func (u UserDetails) Lang() string {
	if u.Language == nil || *u.Language == "" {
		return "en"
	}
	return *u.Language
}

// Device is a registered device owned by a single user.
type Device struct {
	DeviceID                string                  `json:"deviceId"`
	Username                string                  `json:"username"`
	OS                      OS                      `json:"os"`
	LocationPermissionState LocationPermissionState `json:"locationPermissionState"`
	IsNotificationsEnabled  *bool                   `json:"isNotificationsEnabled,omitempty"`
	IsBackgroundRefreshOn   *bool                   `json:"isBackgroundRefreshOn,omitempty"`
	IsLocationServicesOn    *bool                   `json:"isLocationServicesOn,omitempty"`
	IsPowerSaveModeOn       *bool                   `json:"isPowerSaveModeOn,omitempty"`
	OSVersion               *string                 `json:"osVersion,omitempty"`
	AppVersion              *string                 `json:"appVersion,omitempty"`
}

// DeviceSettings is the client-reported device configuration.
type DeviceSettings struct {
	LocationPermissionState LocationPermissionState `json:"locationPermissionState"`
	IsNotificationsEnabled  *bool                   `json:"isNotificationsEnabled"`
	IsBackgroundRefreshOn   *bool                   `json:"isBackgroundRefreshOn"`
	IsLocationServicesOn    *bool                   `json:"isLocationServicesOn"`
	IsPowerSaveModeOn       *bool                   `json:"isPowerSaveModeOn"`
	OSVersion               *string                 `json:"osVersion"`
	AppVersion              *string                 `json:"appVersion"`
}

// BatteryState is the battery snapshot attached to a telemetry batch.
type BatteryState struct {
	BatteryLevel  *float64       `json:"batteryLevel"`
	ChargingState *ChargingState `json:"chargingState"`
	IsCharging    *bool          `json:"isCharging"`
}

// Telemetry is the latest-value entry held in the presence cache.
type Telemetry struct {
	Data         string        `json:"data"`
	Timestamp    string        `json:"timestamp"`
	BatteryState *BatteryState `json:"batteryState"`
}

// TelemetryUpdate is one encrypted reading addressed to one recipient.
type TelemetryUpdate struct {
	RecipientUsername string `json:"recipientUsername"`
	Data              string `json:"data"`
}

// TelemetryRequest is a batch of readings from one sender device.
type TelemetryRequest struct {
	ReturnFriendLocations bool              `json:"returnFriendLocations"`
	Telemetry             []TelemetryUpdate `json:"telemetry"`
	AppState              *AppState         `json:"appState"`
	BatteryState          *BatteryState     `json:"batteryState"`
	CorrelationID         *string           `json:"correlationId"`
}

// TelemetryRecord is one durable telemetry row.
type TelemetryRecord struct {
	Username          string
	DeviceID          string
	RecipientUsername string
	EncryptedLocation string
	AppState          AppState
	ChargingState     ChargingState
	BatteryLevel      float64
	IsCharging        bool
}

// LiveLocation is pushed to websocket subscribers of the recipient.
type LiveLocation struct {
	Data              string `json:"data"`
	RecipientUsername string `json:"recipientUsername"`
	Timestamp         string `json:"timestamp"`
	Username          string `json:"username"`
}

// Connection is one counterpart in a user's social graph, decorated for display.
type Connection struct {
	UserDetails UserDetails `json:"userDetails"`
	AccessType  *AccessType `json:"accessType"`
	State       *UserState  `json:"state"`
	Telemetry   *Telemetry  `json:"telemetry"`
	PublicKey   *string     `json:"publicKey"`
}

// Connections groups followers and following, keyed by counterpart username.
type Connections struct {
	Followers map[string]Connection `json:"followers"`
	Following map[string]Connection `json:"following"`
}

// FollowerEdge is one raw follower row joined with identity data.
// Followers rows carry PublicKey; following rows carry State.
type FollowerEdge struct {
	Details    UserDetails
	AccessType AccessType
	State      *UserState
	PublicKey  *string
}

// FollowerKey is a follower's public key, used by clients to encrypt telemetry.
type FollowerKey struct {
	Username string `json:"username"`
	Key      string `json:"key"`
}

// Command is a tracked force-refresh request.
type Command struct {
	CorrelationID     string
	Username          string
	RecipientUsername string
	Type              CommandType
	State             CommandState
	RequestTimestamp  time.Time
	ResponseTimestamp *time.Time
}

// CommandResponse is returned to whoever asked for a refresh.
type CommandResponse struct {
	CorrelationID *string      `json:"correlationId"`
	CommandStatus CommandState `json:"commandStatus"`
	Error         *string      `json:"error"`
}

// Invitation is a friend invitation link row.
type Invitation struct {
	ID                  string
	CreatorUsername     string
	RecipientUsername   *string
	ExpirationTimestamp time.Time
	State               InvitationState
}

// EmergencyContact is a follower flagged to be alerted on state changes.
type EmergencyContact struct {
	Username string
	Email    *string
}

// Location is one historical telemetry row.
type Location struct {
	Data      string    `json:"data"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
}

// StateTransition is one append-only history row for a user state change.
type StateTransition struct {
	Username  string    `json:"username"`
	State     UserState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}
