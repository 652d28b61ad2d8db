// Package locale holds the user-facing messages in English and German.
package locale

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Message IDs
const (
	MsgUnknownProvider            = "UnknownProvider"
	MsgExtractionFailed           = "ExtractionFailed"
	MsgExtractionSucceeded        = "ExtractionSucceeded"
	MsgDeleteConfirmationRequired = "DeleteConfirmationRequired"
	MsgDoctorNameRequired         = "DoctorNameRequired"
	MsgAmountNegative             = "AmountNegative"
	MsgCalendarName               = "CalendarName"
)

// DefaultLanguage matches the invoices the tracker was built for
const DefaultLanguage = "de"

var supported = []string{"en", "de"}

//go:embed locales/*.json
var localeFS embed.FS

// Translator looks up messages for one language
type Translator struct {
	tag       language.Tag
	localizer *i18n.Localizer
}

// New loads the embedded message files and returns a Translator for lang
func New(lang string) (*Translator, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("parsing language %q: %w", lang, err)
	}

	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	for _, code := range supported {
		path := fmt.Sprintf("locales/active.%s.json", code)
		if _, err := bundle.LoadMessageFileFS(localeFS, path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	return &Translator{
		tag:       tag,
		localizer: i18n.NewLocalizer(bundle, tag.String()),
	}, nil
}

// Tag returns the configured language, used for collation
func (t *Translator) Tag() language.Tag {
	return t.tag
}

// T translates a message ID, falling back to the ID itself
func (t *Translator) T(messageID string) string {
	msg, err := t.localizer.Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		slog.Debug("Missing translation", "id", messageID, "lang", t.tag.String(), "error", err)
		return messageID
	}
	return msg
}
