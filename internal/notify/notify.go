// Package notify builds push, email and silent-refresh payloads and publishes
// them to the broker. The builders are pure; callers resolve devices,
// translations and recipients first.
package notify

import (
	"encoding/json"

	"github.com/MGallo-Code/argus/internal/model"
)

// PriorityHigh marks a push notification for immediate delivery.
const PriorityHigh = "high"

// RefreshCommand is the command name carried by silent refresh payloads.
const RefreshCommand = "RefreshTelemetry"

// NotificationData is one localized message addressed to one user.
type NotificationData struct {
	Username string
	Title    string
	Body     string
}

// PushData is the visible part of a push notification.
type PushData struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority,omitempty"`
}

// PushNotification targets a single device.
type PushNotification struct {
	DeviceID string   `json:"deviceId"`
	Data     PushData `json:"data"`
}

// EmailTemplateData fills the transactional email template.
type EmailTemplateData struct {
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	LinkTitle string  `json:"linkTitle"`
	Picture   *string `json:"picture"`
	Link      *string `json:"link"`
}

// Email is one templated email for one recipient.
type Email struct {
	Username            string            `json:"username"`
	Email               string            `json:"email"`
	TemplateID          string            `json:"templateId"`
	DynamicTemplateData EmailTemplateData `json:"dynamicTemplateData"`
}

// EmailTemplate holds the deployment-wide email settings.
type EmailTemplate struct {
	ID            string // provider template id
	LinkTitle     string // public web URL shown as the link title
	PicturePrefix string // joined with the sender's picture name
}

// PushNotifications returns one notification per device. No devices yields an
// empty slice. priority is omitted from the payload when empty.
func PushNotifications(data NotificationData, devices []model.Device, priority string) []PushNotification {
	out := make([]PushNotification, 0, len(devices))
	for _, d := range devices {
		out = append(out, PushNotification{
			DeviceID: d.DeviceID,
			Data:     PushData{Title: data.Title, Body: data.Body, Priority: priority},
		})
	}
	return out
}

// EmailFor builds the email for recipient, or reports false when recipient has no address.
// link is the already-translated action label.
func EmailFor(sender, recipient model.UserDetails, data NotificationData, link string, tpl EmailTemplate) (Email, bool) {
	if recipient.Email == nil || *recipient.Email == "" {
		return Email{}, false
	}
	var picture *string
	if sender.Picture != nil && *sender.Picture != "" {
		p := tpl.PicturePrefix + "/" + *sender.Picture
		picture = &p
	}
	return Email{
		Username:   recipient.Username,
		Email:      *recipient.Email,
		TemplateID: tpl.ID,
		DynamicTemplateData: EmailTemplateData{
			Title:     data.Title,
			Body:      data.Body,
			LinkTitle: tpl.LinkTitle,
			Picture:   picture,
			Link:      &link,
		},
	}, true
}

// Android devices get a data message wrapping an APNs-style content-available flag.
type androidRefresh struct {
	DeviceID string `json:"deviceId"`
	Data     struct {
		Priority string `json:"priority"`
		Custom   struct {
			Data struct {
				Command       string `json:"command"`
				CorrelationID string `json:"correlationId"`
				Username      string `json:"username"`
				Aps           struct {
					ContentAvailable int `json:"content-available"`
				} `json:"aps"`
			} `json:"data"`
		} `json:"custom"`
	} `json:"data"`
}

// Everything else gets a silent content-available notification.
type silentRefresh struct {
	DeviceID string `json:"deviceId"`
	Data     struct {
		ContentAvailable bool `json:"contentAvailable"`
		Silent           bool `json:"silent"`
		Payload          struct {
			Command       string `json:"command"`
			CorrelationID string `json:"correlationId"`
			Username      string `json:"username"`
		} `json:"payload"`
	} `json:"data"`
}

// RefreshPayload builds the silent refresh message for one device.
func RefreshPayload(device model.Device, correlationID, requester string) json.RawMessage {
	var v any
	if device.OS == model.OSAndroid {
		var p androidRefresh
		p.DeviceID = device.DeviceID
		p.Data.Priority = PriorityHigh
		p.Data.Custom.Data.Command = RefreshCommand
		p.Data.Custom.Data.CorrelationID = correlationID
		p.Data.Custom.Data.Username = requester
		p.Data.Custom.Data.Aps.ContentAvailable = 1
		v = p
	} else {
		var p silentRefresh
		p.DeviceID = device.DeviceID
		p.Data.ContentAvailable = true
		p.Data.Silent = true
		p.Data.Payload.Command = RefreshCommand
		p.Data.Payload.CorrelationID = correlationID
		p.Data.Payload.Username = requester
		v = p
	}
	// Only strings, bools and ints; Marshal cannot fail.
	raw, _ := json.Marshal(v)
	return raw
}

// RefreshPayloads builds one silent refresh message per device.
func RefreshPayloads(devices []model.Device, correlationID, requester string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(devices))
	for _, d := range devices {
		out = append(out, RefreshPayload(d, correlationID, requester))
	}
	return out
}
