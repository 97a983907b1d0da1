package authoring

import (
	"go/parser"
	"go/token"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxNameLength bounds derived unit names, suffix included.
const DefaultMaxNameLength = 50

const nameSuffix = "_test"

// blocklist holds placeholder names that would collide across requests.
var blocklist = map[string]bool{
	"test":           true,
	"custom_test":    true,
	"new_test":       true,
	"my_test":        true,
	"untitled_test":  true,
	"generated_test": true,
	"example_test":   true,
	"sample_test":    true,
	"audit_test":     true,
	"unit_test":      true,
	"analysis_test":  true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// FallbackName is the timestamped name used when no usable name can be
// derived.
func FallbackName(now time.Time) string {
	return "generated_" + now.Format("20060102_150405") + nameSuffix
}

// DeriveName builds a file-safe unit name from the second line of the
// source's header comment, the Latin-alphabet title.
func DeriveName(source string, now time.Time, maxLen int) string {
	lines := headerLines(source)
	if len(lines) == 0 {
		return FallbackName(now)
	}
	title := lines[0]
	if len(lines) > 1 {
		title = lines[1]
	}
	name := slug(title, maxLen)
	if name == "" || blocklist[name] {
		return FallbackName(now)
	}
	return name
}

// SanitizeName applies the same rules to a caller-supplied file name.
func SanitizeName(filename string, now time.Time, maxLen int) string {
	base := strings.TrimSuffix(strings.TrimSpace(filename), ".go")
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if name := slug(base, maxLen); name != "" {
		return name
	}
	return FallbackName(now)
}

var fold = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// slug lowercases s, strips diacritics and collapses everything outside
// [a-z0-9] to single underscores. The result ends in _test and is at most
// maxLen bytes, or is empty when s has no usable characters.
func slug(s string, maxLen int) string {
	if maxLen <= len(nameSuffix) {
		maxLen = DefaultMaxNameLength
	}
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	name := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(folded), "_"), "_")
	if name == "" || blocklist[name] && !strings.HasSuffix(name, nameSuffix) {
		return ""
	}
	if len(name) > maxLen {
		name = strings.TrimRight(name[:maxLen], "_")
	}
	if !strings.HasSuffix(name, nameSuffix) {
		if len(name)+len(nameSuffix) > maxLen {
			name = strings.TrimRight(name[:maxLen-len(nameSuffix)], "_")
		}
		name += nameSuffix
	}
	return name
}

// headerLines returns the first two non-blank lines of the comment that
// opens the file, before the package clause.
func headerLines(source string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", source, parser.ParseComments|parser.PackageClauseOnly)
	if err != nil || len(file.Comments) == 0 {
		return nil
	}
	group := file.Comments[0]
	if group.Pos() > file.Package {
		return nil
	}

	var out []string
	for _, line := range strings.Split(group.Text(), "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "*"))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == 2 {
			break
		}
	}
	return out
}
