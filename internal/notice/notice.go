// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package notice

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// =============================================================================
// MESSAGE KEYS
// =============================================================================

// Keys double as the English text.
const (
	keyThoughtSeconds = "Thought for %.1f sec"
	keyThoughtMinutes = "Thought for %d min %d sec"
	keyThoughtHours   = "Thought for %d hr %d min %d sec"
	keyLengthLimit    = "The response hit the length limit and was cut short."
	keyContentFilter  = "The response was blocked by the content filter."
	keyEmptyResult    = "No response was received. Try again."
	keyInterrupted    = "Response stopped."
	keySyncFailed     = "Changes could not be saved: %s"
	keyNetwork        = "Could not reach the model provider: %s"
	keyHTTPStatus     = "The model provider returned HTTP %d."
	keyHTTPStatusBody = "The model provider returned HTTP %d: %s"
	keyDecode         = "The model provider sent a response that could not be read."
)

var translations = map[language.Tag]map[string]string{
	language.Spanish: {
		keyThoughtSeconds: "Pensó durante %.1f s",
		keyThoughtMinutes: "Pensó durante %d min %d s",
		keyThoughtHours:   "Pensó durante %d h %d min %d s",
		keyLengthLimit:    "La respuesta alcanzó el límite de longitud y se cortó.",
		keyContentFilter:  "El filtro de contenido bloqueó la respuesta.",
		keyEmptyResult:    "No se recibió ninguna respuesta. Inténtalo de nuevo.",
		keyInterrupted:    "Respuesta detenida.",
		keySyncFailed:     "No se pudieron guardar los cambios: %s",
		keyNetwork:        "No se pudo contactar con el proveedor del modelo: %s",
		keyHTTPStatus:     "El proveedor del modelo devolvió HTTP %d.",
		keyHTTPStatusBody: "El proveedor del modelo devolvió HTTP %d: %s",
		keyDecode:         "El proveedor del modelo envió una respuesta ilegible.",
	},
	language.German: {
		keyThoughtSeconds: "%.1f Sek. nachgedacht",
		keyThoughtMinutes: "%d Min. %d Sek. nachgedacht",
		keyThoughtHours:   "%d Std. %d Min. %d Sek. nachgedacht",
		keyLengthLimit:    "Die Antwort hat das Längenlimit erreicht und wurde abgeschnitten.",
		keyContentFilter:  "Die Antwort wurde vom Inhaltsfilter blockiert.",
		keyEmptyResult:    "Es wurde keine Antwort empfangen. Bitte erneut versuchen.",
		keyInterrupted:    "Antwort gestoppt.",
		keySyncFailed:     "Änderungen konnten nicht gespeichert werden: %s",
		keyNetwork:        "Der Modellanbieter ist nicht erreichbar: %s",
		keyHTTPStatus:     "Der Modellanbieter hat HTTP %d zurückgegeben.",
		keyHTTPStatusBody: "Der Modellanbieter hat HTTP %d zurückgegeben: %s",
		keyDecode:         "Die Antwort des Modellanbieters konnte nicht gelesen werden.",
	},
}

// Supported lists the languages with a catalog, English first.
var Supported = []language.Tag{language.English, language.Spanish, language.German}

var (
	builtCatalog = buildCatalog()
	matcher      = language.NewMatcher(Supported)
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range translations {
		for key, text := range msgs {
			// Keys are compile-time constants; SetString only fails on a bad tag.
			_ = b.SetString(tag, key, text)
		}
	}
	return b
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog renders user-facing notices in one language.
type Catalog struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a catalog for the best match of lang (a BCP 47 tag such as
// "es-MX"). Unknown or empty tags fall back to English.
func New(lang string) *Catalog {
	tag := language.English
	if lang != "" {
		if parsed, err := language.Parse(lang); err == nil {
			_, idx, _ := matcher.Match(parsed)
			tag = Supported[idx]
		}
	}
	return &Catalog{tag: tag, printer: message.NewPrinter(tag, message.Catalog(builtCatalog))}
}

// Language returns the catalog's language.
func (c *Catalog) Language() language.Tag {
	return c.tag
}

// ReasoningElapsed formats total reasoning time, e.g. "Thought for 2.0 sec",
// "Thought for 1 min 5 sec" or "Thought for 1 hr 2 min 3 sec".
func (c *Catalog) ReasoningElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return c.printer.Sprintf(keyThoughtSeconds, d.Seconds())
	}
	total := int(d / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h == 0 {
		return c.printer.Sprintf(keyThoughtMinutes, m, s)
	}
	return c.printer.Sprintf(keyThoughtHours, h, m, s)
}

// LengthLimit is shown when the provider stopped at its token limit.
func (c *Catalog) LengthLimit() string { return c.printer.Sprintf(keyLengthLimit) }

// ContentFilter is shown when the provider filtered the response.
func (c *Catalog) ContentFilter() string { return c.printer.Sprintf(keyContentFilter) }

// EmptyResult is the placeholder for an answer that carried nothing.
func (c *Catalog) EmptyResult() string { return c.printer.Sprintf(keyEmptyResult) }

// Interrupted notes a cancelled response.
func (c *Catalog) Interrupted() string { return c.printer.Sprintf(keyInterrupted) }

// SyncFailed describes a failed save.
func (c *Catalog) SyncFailed(err error) string {
	return c.printer.Sprintf(keySyncFailed, err.Error())
}

// Network describes a connection failure.
func (c *Catalog) Network(err error) string {
	return c.printer.Sprintf(keyNetwork, err.Error())
}

// HTTPStatus describes a non-2xx response.
func (c *Catalog) HTTPStatus(code int, body string) string {
	if body == "" {
		return c.printer.Sprintf(keyHTTPStatus, code)
	}
	return c.printer.Sprintf(keyHTTPStatusBody, code, body)
}

// Decode describes an unreadable response.
func (c *Catalog) Decode() string { return c.printer.Sprintf(keyDecode) }
