// File: internal/infra/i18n/translator.go
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator resolves message keys for a single language.
type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := fmt.Sprintf("locales/%s.yaml", langCode)
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("read translation file %s: %w", filePath, err)
	}
	tr, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	tr.lang = langCode
	return tr, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// Lang reports the language code this Translator was loaded for.
func (t *Translator) Lang() string { return t.lang }

// T resolves a key, formatting args into the message when given. Unknown keys
// come back verbatim so a missing translation never blanks a page.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Bundle holds one Translator per language found under locales/.
type Bundle struct {
	translators map[string]*Translator
	fallback    string
}

// NewBundle loads every locales/*.yaml in fsys. The fallback language must be
// among them; Pick hands it out for unknown or empty language codes.
func NewBundle(fsys fs.FS, fallback string) (*Bundle, error) {
	entries, err := fs.ReadDir(fsys, "locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}

	b := &Bundle{translators: make(map[string]*Translator), fallback: fallback}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		lang := strings.TrimSuffix(name, ".yaml")
		tr, err := NewTranslator(fsys, lang)
		if err != nil {
			return nil, err
		}
		b.translators[lang] = tr
	}
	if _, ok := b.translators[fallback]; !ok {
		return nil, fmt.Errorf("fallback language %q has no translation file", fallback)
	}
	return b, nil
}

// Pick returns the Translator for lang, or the fallback one when the language
// is unknown.
func (b *Bundle) Pick(lang string) *Translator {
	if tr, ok := b.translators[strings.ToLower(lang)]; ok {
		return tr
	}
	return b.translators[b.fallback]
}
