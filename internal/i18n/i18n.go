// Package i18n resolves user-facing messages by id and language.
//
// Catalogs live in locales/<lang>.yaml and are embedded into the binary.
// English is the base locale: it must define every MessageID, and any id or
// language missing elsewhere falls back to it.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// MessageID names a translatable message.
type MessageID string

const (
	NoUserForKey                            MessageID = "NoUserForKey"
	DeviceNotFound                          MessageID = "DeviceNotFound"
	DeviceNotUpdated                        MessageID = "DeviceNotUpdated"
	BackendIssue                            MessageID = "BackendIssue"
	DatabaseError                           MessageID = "DatabaseError"
	InvitationsYouAreNotFriends             MessageID = "InvitationsYouAreNotFriends"
	InvitationsInvitationDoesNotExist       MessageID = "InvitationsInvitationDoesNotExist"
	InvitationsInvitationIsNoLongerValid    MessageID = "InvitationsInvitationIsNoLongerValid"
	InvitationsAlreadyFriends               MessageID = "InvitationsAlreadyFriends"
	CannotUseOwnInvitation                  MessageID = "CannotUseOwnInvitation"
	InvalidExpirationDate                   MessageID = "InvalidExpirationDate"
	NannyNotificationAttention              MessageID = "NannyNotificationAttention"
	NannyNotificationBody                   MessageID = "NannyNotificationBody"
	NannyNotificationOfflinePhoneOwnerBody  MessageID = "NannyNotificationOfflinePhoneOwnerBody"
	PushNotificationInvitationAcceptedTitle MessageID = "PushNotificationInvitationAcceptedTitle"
	PushNotificationInvitationAcceptedBody  MessageID = "PushNotificationInvitationAcceptedBody"
	UserAlreadyInNormal                     MessageID = "UserAlreadyInNormal"
	UserAlreadyInEmergency                  MessageID = "UserAlreadyInEmergency"
	UserNotInEmergency                      MessageID = "UserNotInEmergency"
	EmergencyModePushNotificationBody       MessageID = "EmergencyModePushNotificationBody"
	NormalModePushNotificationBody          MessageID = "NormalModePushNotificationBody"
	PushNotificationActionView              MessageID = "PushNotificationActionView"
	InvalidHistoricalLocationStartTime      MessageID = "InvalidHistoricalLocationStartTime"
	InvalidRequest                          MessageID = "InvalidRequest"
	Unauthorized                            MessageID = "Unauthorized"
)

// AllMessageIDs lists every id the base locale must define.
var AllMessageIDs = []MessageID{
	NoUserForKey, DeviceNotFound, DeviceNotUpdated, BackendIssue, DatabaseError,
	InvitationsYouAreNotFriends, InvitationsInvitationDoesNotExist, InvitationsInvitationIsNoLongerValid,
	InvitationsAlreadyFriends, CannotUseOwnInvitation, InvalidExpirationDate,
	NannyNotificationAttention, NannyNotificationBody, NannyNotificationOfflinePhoneOwnerBody,
	PushNotificationInvitationAcceptedTitle, PushNotificationInvitationAcceptedBody,
	UserAlreadyInNormal, UserAlreadyInEmergency, UserNotInEmergency,
	EmergencyModePushNotificationBody, NormalModePushNotificationBody, PushNotificationActionView,
	InvalidHistoricalLocationStartTime, InvalidRequest, Unauthorized,
}

// BaseLocale is the fallback language.
var BaseLocale = language.English

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// catalogFile is the YAML shape of one locale file.
type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Translator renders messages through an x/text catalog.
// Safe for concurrent use once built.
type Translator struct {
	tags    []language.Tag // tags[0] is BaseLocale
	matcher language.Matcher
	// printers is keyed by the index into tags.
	printers []*message.Printer
}

// LoadEmbedded builds a Translator from the catalogs compiled into the binary.
func LoadEmbedded() (*Translator, error) {
	sub, err := fs.Sub(embeddedLocales, "locales")
	if err != nil {
		return nil, fmt.Errorf("opening embedded locales: %w", err)
	}
	return LoadFromFS(sub)
}

// LoadFromFS builds a Translator from every *.yaml file at the root of fsys.
// Returns an error if the base locale is absent or misses any MessageID.
func LoadFromFS(fsys fs.FS) (*Translator, error) {
	paths, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("listing locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no locale catalogs found")
	}
	sort.Strings(paths)

	b := catalog.NewBuilder(catalog.Fallback(BaseLocale))
	t := &Translator{tags: []language.Tag{BaseLocale}}
	var base map[string]string
	others := map[language.Tag]map[string]string{}

	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("reading catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing catalog %s: %w", p, err)
		}

		// File name and declared locale must agree so a copy-paste can't shadow a language.
		name := strings.TrimSuffix(path.Base(p), path.Ext(p))
		if strings.TrimSpace(file.Locale) != name {
			return nil, fmt.Errorf("catalog %s: locale %q must match file name", p, file.Locale)
		}
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: parsing locale: %w", p, err)
		}
		if len(file.Messages) == 0 {
			return nil, fmt.Errorf("catalog %s: no messages", p)
		}

		if tag.String() == BaseLocale.String() {
			base = file.Messages
			continue
		}
		t.tags = append(t.tags, tag)
		others[tag] = file.Messages
	}

	if base == nil {
		return nil, fmt.Errorf("base locale %s is not defined", BaseLocale)
	}
	for _, id := range AllMessageIDs {
		if _, ok := base[string(id)]; !ok {
			return nil, fmt.Errorf("base locale %s is missing %q", BaseLocale, id)
		}
	}

	// Every locale gets every base key; gaps are filled with the English text.
	if err := setAll(b, BaseLocale, base); err != nil {
		return nil, err
	}
	for _, tag := range t.tags[1:] {
		msgs := others[tag]
		merged := make(map[string]string, len(base))
		for key, msg := range base {
			merged[key] = msg
		}
		for key, msg := range msgs {
			merged[key] = msg
		}
		if err := setAll(b, tag, merged); err != nil {
			return nil, err
		}
	}

	t.matcher = language.NewMatcher(t.tags)
	t.printers = make([]*message.Printer, len(t.tags))
	for i, tag := range t.tags {
		t.printers[i] = message.NewPrinter(tag, message.Catalog(b))
	}
	return t, nil
}

func setAll(b *catalog.Builder, tag language.Tag, msgs map[string]string) error {
	for key, msg := range msgs {
		if err := b.SetString(tag, key, msg); err != nil {
			return fmt.Errorf("setting %s %q: %w", tag, key, err)
		}
	}
	return nil
}

// Translate returns the message for id in lang. Unknown or unsupported
// languages get the base locale.
func (t *Translator) Translate(id MessageID, lang string) string {
	return t.printer(lang).Sprintf(string(id))
}

// Translatef is Translate for messages with format arguments.
func (t *Translator) Translatef(id MessageID, lang string, args ...any) string {
	return t.printer(lang).Sprintf(string(id), args...)
}

// printer picks the printer for the closest supported language.
func (t *Translator) printer(lang string) *message.Printer {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return t.printers[0]
	}
	_, idx, conf := t.matcher.Match(tag)
	if conf == language.No {
		return t.printers[0]
	}
	return t.printers[idx]
}
