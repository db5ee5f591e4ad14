package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer from the embedded phrasebooks
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Russian)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{cfg.DefaultLanguage}
	}

	for _, lang := range languages {
		name := fmt.Sprintf("%s.json", lang)
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, name); err != nil {
			return nil, fmt.Errorf("failed to parse language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("default language %q is not loaded", cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Text returns a message in the default language
func (l *Localizer) Text(messageID string, data map[string]interface{}) string {
	return l.Get(l.defaultLanguage, messageID, data)
}

// Random returns one variant of a phrase group, picked uniformly.
// Ids without variants behave like Text.
func (l *Localizer) Random(messageID string, data map[string]interface{}) string {
	n, ok := variants[messageID]
	if !ok || n == 0 {
		return l.Text(messageID, data)
	}
	return l.Text(fmt.Sprintf("%s_%d", messageID, rand.Intn(n)+1), data)
}

// Message IDs
const (
	MsgWelcome               = "welcome"
	MsgHelp                  = "help"
	MsgHistoryCleared        = "history_cleared"
	MsgRateLimited           = "rate_limited"
	MsgEmptyMessage          = "empty_message"
	MsgNothingToSay          = "nothing_to_say"
	MsgError                 = "error"
	MsgSendFailed            = "send_failed"
	MsgImageRateLimited      = "image_rate_limited"
	MsgImageNoDescription    = "image_no_description"
	MsgImageEmptyDescription = "image_empty_description"
	MsgImageFailed           = "image_failed"
	MsgImageError            = "image_error"
	MsgImageExcuse           = "image_excuse"
	MsgImageSketch           = "image_sketch"
	MsgImageCaption          = "image_caption"
)

// variants counts the numbered alternatives of each phrase group
var variants = map[string]int{
	MsgError:        4,
	MsgImageExcuse:  3,
	MsgImageCaption: 5,
}

// Variants returns every alternative of a phrase group in the default language
func (l *Localizer) Variants(messageID string, data map[string]interface{}) []string {
	n := variants[messageID]
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, l.Text(fmt.Sprintf("%s_%d", messageID, i), data))
	}
	return out
}
