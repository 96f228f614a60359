// Package language normalizes BCP 47 language codes via x/text/language.
package language

import "golang.org/x/text/language"

// Normalize parses code and returns its canonical form. The metadata API
// reports defaultAudioLanguage in whatever casing the uploader picked, so
// "EN-us" and "en-US" must store identically. Unparseable codes degrade
// to "".
func Normalize(code string) string {
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return ""
	}
	return tag.String()
}
