// stores.go
//
// Shared mock implementation of the Postgres-backed ports (users, follower
// graph, state, telemetry rows, commands, devices, invitations).
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/MGallo-Code/argus/internal/model"
	"github.com/MGallo-Code/argus/internal/store"
)

// Edge is one directed follower edge in MockStore.
type Edge struct {
	Access           model.AccessType
	EmergencyContact bool
}

// EdgeKey identifies an edge: Follower follows Username.
type EdgeKey struct {
	Username string
	Follower string
}

// TelemetryRow is an inserted telemetry record with its insertion time.
type TelemetryRow struct {
	Record model.TelemetryRecord
	At     time.Time
}

// MockStore implements every store port for tests.

// Always stateful...users, edges, commands and invitations are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Use NewMockStore plus the Add*/Follow helpers to seed data.
type MockStore struct {
	// Error injection...zero value means no error
	UserDetailsErr       error
	PublicKeyErr         error
	FollowersErr         error
	FollowingErr         error
	FollowerKeysErr      error
	IsFollowerErr        error
	HasAnyEdgeErr        error
	EmergencyContactsErr error
	RemoveFriendErr      error
	UserStateErr         error
	TransitionErr        error
	StateHistoryErr      error
	InsertTelemetryErr   error
	HistoricalErr        error
	CreateCommandErr     error
	CloseCommandErr      error
	DevicesErr           error
	DeviceErr            error
	UpdateDeviceErr      error
	CreateInvitationErr  error
	InvitationErr        error
	CloseInvitationErr   error
	AcceptInvitationErr  error

	Users       map[string]*model.UserDetails
	Keys        map[string]string
	States      map[string]model.UserState
	History     []model.StateTransition
	Edges       map[EdgeKey]Edge
	Devices     map[string]*model.Device
	Telemetry   []TelemetryRow
	Commands    map[string]*model.Command
	Invitations map[string]*model.Invitation

	mu sync.Mutex
}

// NewMockStore returns an empty, ready-to-seed MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		Users:       make(map[string]*model.UserDetails),
		Keys:        make(map[string]string),
		States:      make(map[string]model.UserState),
		Edges:       make(map[EdgeKey]Edge),
		Devices:     make(map[string]*model.Device),
		Commands:    make(map[string]*model.Command),
		Invitations: make(map[string]*model.Invitation),
	}
}

// --- Seeding helpers ---

// AddUser registers a user in Normal state with a public key "pk-{username}".
func (m *MockStore) AddUser(u model.UserDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Users[u.Username] = &u
	m.Keys[u.Username] = "pk-" + u.Username
	m.States[u.Username] = model.StateNormal
}

// Follow adds the edge "follower follows username".
func (m *MockStore) Follow(username, follower string, access model.AccessType, emergencyContact bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edges[EdgeKey{username, follower}] = Edge{Access: access, EmergencyContact: emergencyContact}
}

// AddDevice registers a device.
func (m *MockStore) AddDevice(d model.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Devices[d.DeviceID] = &d
}

// SetState forces a user's state without writing history.
func (m *MockStore) SetState(username string, state model.UserState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.States[username] = state
}

// CommandState returns the state of a stored command, or "" if absent.
func (m *MockStore) CommandState(correlationID string) model.CommandState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.Commands[correlationID]; ok {
		return c.State
	}
	return ""
}

// CommandsFor returns the commands addressed to recipient, in no particular order.
func (m *MockStore) CommandsFor(recipient string) []model.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Command
	for _, c := range m.Commands {
		if c.RecipientUsername == recipient {
			out = append(out, *c)
		}
	}
	return out
}

// InvitationState returns the state of a stored invitation, or "" if absent.
func (m *MockStore) InvitationState(id string) model.InvitationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.Invitations[id]; ok {
		return inv.State
	}
	return ""
}

// TelemetryRows returns a copy of the inserted telemetry rows.
func (m *MockStore) TelemetryRows() []TelemetryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.Telemetry)
}

// --- Users ---

func (m *MockStore) UserDetails(_ context.Context, username string) (*model.UserDetails, error) {
	if m.UserDetailsErr != nil {
		return nil, m.UserDetailsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) PublicKey(_ context.Context, username string) (string, error) {
	if m.PublicKeyErr != nil {
		return "", m.PublicKeyErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[username]
	if !ok {
		return "", store.ErrNotFound
	}
	return k, nil
}

// --- Follower graph ---

func (m *MockStore) edgesLocked(match func(EdgeKey) bool) []EdgeKey {
	var keys []EdgeKey
	for k := range m.Edges {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Username != keys[j].Username {
			return keys[i].Username < keys[j].Username
		}
		return keys[i].Follower < keys[j].Follower
	})
	return keys
}

func (m *MockStore) Followers(_ context.Context, username string) ([]model.FollowerEdge, error) {
	if m.FollowersErr != nil {
		return nil, m.FollowersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FollowerEdge
	for _, k := range m.edgesLocked(func(k EdgeKey) bool { return k.Username == username }) {
		u, ok := m.Users[k.Follower]
		if !ok {
			continue
		}
		e := model.FollowerEdge{Details: *u, AccessType: m.Edges[k].Access}
		if st, ok := m.States[k.Follower]; ok {
			e.State = &st
		}
		if key, ok := m.Keys[k.Follower]; ok {
			e.PublicKey = &key
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockStore) Following(_ context.Context, follower string) ([]model.FollowerEdge, error) {
	if m.FollowingErr != nil {
		return nil, m.FollowingErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FollowerEdge
	for _, k := range m.edgesLocked(func(k EdgeKey) bool { return k.Follower == follower }) {
		u, ok := m.Users[k.Username]
		if !ok {
			continue
		}
		st := m.States[k.Username]
		out = append(out, model.FollowerEdge{Details: *u, AccessType: m.Edges[k].Access, State: &st})
	}
	return out, nil
}

func (m *MockStore) FollowerKeys(_ context.Context, username string) ([]model.FollowerKey, error) {
	if m.FollowerKeysErr != nil {
		return nil, m.FollowerKeysErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.FollowerKey
	for _, k := range m.edgesLocked(func(k EdgeKey) bool { return k.Username == username }) {
		if key, ok := m.Keys[k.Follower]; ok {
			out = append(out, model.FollowerKey{Username: k.Follower, Key: key})
		}
	}
	return out, nil
}

func (m *MockStore) IsFollower(_ context.Context, username, follower string) (bool, error) {
	if m.IsFollowerErr != nil {
		return false, m.IsFollowerErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Edges[EdgeKey{username, follower}]
	return ok, nil
}

func (m *MockStore) HasAnyEdge(_ context.Context, a, b string) (bool, error) {
	if m.HasAnyEdgeErr != nil {
		return false, m.HasAnyEdgeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ab := m.Edges[EdgeKey{a, b}]
	_, ba := m.Edges[EdgeKey{b, a}]
	return ab || ba, nil
}

func (m *MockStore) EmergencyContacts(_ context.Context, username string) ([]model.EmergencyContact, error) {
	if m.EmergencyContactsErr != nil {
		return nil, m.EmergencyContactsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.EmergencyContact
	for _, k := range m.edgesLocked(func(k EdgeKey) bool { return k.Username == username }) {
		if !m.Edges[k].EmergencyContact {
			continue
		}
		c := model.EmergencyContact{Username: k.Follower}
		if u, ok := m.Users[k.Follower]; ok {
			c.Email = u.Email
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *MockStore) RemoveFriend(_ context.Context, a, b string) error {
	if m.RemoveFriendErr != nil {
		return m.RemoveFriendErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Edges, EdgeKey{a, b})
	delete(m.Edges, EdgeKey{b, a})
	return nil
}

// --- User state ---

func (m *MockStore) UserState(_ context.Context, username string) (model.UserState, error) {
	if m.UserStateErr != nil {
		return "", m.UserStateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.States[username]
	if !ok {
		return "", store.ErrNotFound
	}
	return st, nil
}

func (m *MockStore) TransitionUserState(_ context.Context, username string, newState model.UserState) error {
	if m.TransitionErr != nil {
		return m.TransitionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.States[username]
	if !ok || st == newState {
		return store.ErrStateUnchanged
	}
	m.States[username] = newState
	m.History = append(m.History, model.StateTransition{Username: username, State: newState, CreatedAt: time.Now()})
	return nil
}

func (m *MockStore) StateHistory(_ context.Context, username string) ([]model.StateTransition, error) {
	if m.StateHistoryErr != nil {
		return nil, m.StateHistoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StateTransition
	for _, h := range m.History {
		if h.Username == username {
			out = append(out, h)
		}
	}
	return out, nil
}

// --- Telemetry ---

func (m *MockStore) InsertTelemetry(_ context.Context, rec model.TelemetryRecord) error {
	if m.InsertTelemetryErr != nil {
		return m.InsertTelemetryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Telemetry = append(m.Telemetry, TelemetryRow{Record: rec, At: time.Now()})
	return nil
}

func (m *MockStore) HistoricalLocations(_ context.Context, owner, recipient string, start, end time.Time) ([]model.Location, error) {
	if m.HistoricalErr != nil {
		return nil, m.HistoricalErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Location
	for _, row := range m.Telemetry {
		r := row.Record
		if r.Username != owner || r.RecipientUsername != recipient {
			continue
		}
		if !row.At.After(start) || !row.At.Before(end) {
			continue
		}
		out = append(out, model.Location{Data: r.EncryptedLocation, DeviceID: r.DeviceID, Timestamp: row.At})
	}
	return out, nil
}

// --- Commands ---

func (m *MockStore) CreateCommand(_ context.Context, cmd model.Command) error {
	if m.CreateCommandErr != nil {
		return m.CreateCommandErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd.RequestTimestamp = time.Now()
	m.Commands[cmd.CorrelationID] = &cmd
	return nil
}

func (m *MockStore) CloseCommand(_ context.Context, correlationID string, state model.CommandState) error {
	if m.CloseCommandErr != nil {
		return m.CloseCommandErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Commands[correlationID]
	if !ok || c.State != model.CommandCreated {
		return store.ErrStateUnchanged
	}
	now := time.Now()
	c.State = state
	c.ResponseTimestamp = &now
	return nil
}

// --- Devices ---

func (m *MockStore) DevicesFor(_ context.Context, username string) ([]model.Device, error) {
	if m.DevicesErr != nil {
		return nil, m.DevicesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Device
	for _, d := range m.Devices {
		if d.Username == username {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

func (m *MockStore) Device(_ context.Context, deviceID string) (*model.Device, error) {
	if m.DeviceErr != nil {
		return nil, m.DeviceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MockStore) UpdateDeviceSettings(_ context.Context, username, deviceID string, s model.DeviceSettings) error {
	if m.UpdateDeviceErr != nil {
		return m.UpdateDeviceErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.Devices[deviceID]
	if !ok || d.Username != username {
		return store.ErrStateUnchanged
	}
	d.LocationPermissionState = s.LocationPermissionState
	d.IsNotificationsEnabled = s.IsNotificationsEnabled
	d.IsBackgroundRefreshOn = s.IsBackgroundRefreshOn
	d.IsLocationServicesOn = s.IsLocationServicesOn
	d.IsPowerSaveModeOn = s.IsPowerSaveModeOn
	d.OSVersion = s.OSVersion
	d.AppVersion = s.AppVersion
	return nil
}

// --- Invitations ---

func (m *MockStore) CreateInvitation(_ context.Context, inv model.Invitation) error {
	if m.CreateInvitationErr != nil {
		return m.CreateInvitationErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invitations[inv.ID] = &inv
	return nil
}

func (m *MockStore) Invitation(_ context.Context, id string) (*model.Invitation, error) {
	if m.InvitationErr != nil {
		return nil, m.InvitationErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invitations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *MockStore) CloseInvitation(_ context.Context, id string, state model.InvitationState, recipient *string) error {
	if m.CloseInvitationErr != nil {
		return m.CloseInvitationErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invitations[id]
	if !ok || inv.State != model.InvitationCreated {
		return store.ErrStateUnchanged
	}
	inv.State = state
	if recipient != nil {
		inv.RecipientUsername = recipient
	}
	return nil
}

func (m *MockStore) AcceptInvitation(_ context.Context, id, recipient string) (string, error) {
	if m.AcceptInvitationErr != nil {
		return "", m.AcceptInvitationErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.Invitations[id]
	if !ok || inv.State != model.InvitationCreated {
		return "", store.ErrStateUnchanged
	}
	creator := inv.CreatorUsername
	_, ab := m.Edges[EdgeKey{creator, recipient}]
	_, ba := m.Edges[EdgeKey{recipient, creator}]
	if ab || ba {
		return "", store.ErrAlreadyFriends
	}
	inv.State = model.InvitationAccepted
	inv.RecipientUsername = &recipient
	m.Edges[EdgeKey{creator, recipient}] = Edge{Access: model.AccessPermanent}
	m.Edges[EdgeKey{recipient, creator}] = Edge{Access: model.AccessPermanent}
	return creator, nil
}
