package export

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Identifier turns a class name into something usable as a file name and a
// source identifier: accents are stripped and anything outside letters,
// digits, '_' and '$' becomes '_'.
func Identifier(name string) string {
	name = strings.TrimSpace(removeAccents(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '_', r == '$':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "Unnamed"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

// ArchiveDir names the single top-level directory of an export archive.
func ArchiveDir(diagramName string) string {
	if strings.TrimSpace(diagramName) == "" {
		return "src"
	}
	return Identifier(diagramName)
}

// uniqueNames hands out file names, suffixing repeats with _2, _3, ...
type uniqueNames map[string]int

func (u uniqueNames) next(base, ext string) string {
	key := strings.ToLower(base)
	u[key]++
	if n := u[key]; n > 1 {
		return fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return base + ext
}
