// Package i18n provides the localized user-facing messages of the SDK.
//
// Catalogs are package-level static data; the language is selected once
// at client construction (config "language") and applies process-wide.
// French is the default catalog: it is the documented message table of
// the Corpora console. English is available for international tenants.
package i18n

import (
	"fmt"
	"os"
	"strings"
)

// Supported languages.
const (
	LangFR = "fr"
	LangEN = "en"
)

// currentLang holds the current language setting.
var currentLang = LangFR

// messages stores all translations.
var messages = make(map[string]map[string]string)

func init() {
	loadMessages()
}

// Init initializes the i18n system with the specified language.
// Unknown values fall back to the CORPORA_LANG environment variable,
// then to French.
func Init(lang string) {
	lang = strings.ToLower(strings.TrimSpace(lang))

	switch lang {
	case "fr", "fr-fr", "french":
		currentLang = LangFR
	case "en", "en-us", "en-gb", "english":
		currentLang = LangEN
	default:
		if envLang := os.Getenv("CORPORA_LANG"); envLang != "" && !strings.EqualFold(envLang, lang) {
			Init(envLang)
			return
		}
		currentLang = LangFR
	}
}

// SetLanguage changes the current language.
func SetLanguage(lang string) {
	Init(lang)
}

// GetLanguage returns the current language.
func GetLanguage() string {
	return currentLang
}

// T returns the translated message for the given key.
// Falls back to French (the reference catalog) if the translation is
// missing, then to the key itself.
func T(key string) string {
	if msg, ok := messages[currentLang][key]; ok {
		return msg
	}

	if msg, ok := messages[LangFR][key]; ok {
		return msg
	}

	return key
}

// Sprintf returns the translated and formatted message.
func Sprintf(key string, args ...any) string {
	return fmt.Sprintf(T(key), args...)
}

// loadMessages initializes the message maps.
func loadMessages() {
	messages[LangFR] = make(map[string]string)
	messages[LangEN] = make(map[string]string)

	loadFrenchMessages()
	loadEnglishMessages()
}

// SupportedLanguages returns the list of supported language codes.
func SupportedLanguages() []string {
	return []string{LangFR, LangEN}
}

// IsLanguageSupported checks if a language is supported.
func IsLanguageSupported(lang string) bool {
	lang = strings.ToLower(strings.TrimSpace(lang))
	for _, supported := range SupportedLanguages() {
		if strings.EqualFold(lang, supported) {
			return true
		}
	}
	return false
}
