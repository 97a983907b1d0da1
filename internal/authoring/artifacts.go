package authoring

import "strings"

// Sentinel separates the unit source from its documentation in a model
// response. It must appear alone on its line.
const Sentinel = "=====DOCUMENTATION====="

// Artifacts is the pair produced from one response. Documentation is nil
// when the response carried none.
type Artifacts struct {
	Source        string
	Documentation *string
}

// StripFences removes a leading code-fence line such as "```go" and a final
// closing fence. Fences in the middle of the text are left alone.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = ""
		}
	}
	s = strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(s, "```") {
		i := strings.LastIndexByte(s, '\n')
		if strings.TrimSpace(s[i+1:]) == "```" {
			s = s[:i+1]
		}
	}
	return strings.TrimSpace(s)
}

// Split separates resp at the first sentinel line. The source half has its
// own trailing fence removed.
func Split(resp string) Artifacts {
	lines := strings.Split(resp, "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) != Sentinel {
			continue
		}
		src := StripFences(strings.Join(lines[:i], "\n"))
		doc := strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		a := Artifacts{Source: src}
		if doc != "" {
			a.Documentation = &doc
		}
		return a
	}
	return Artifacts{Source: strings.TrimSpace(resp)}
}

// Join is the inverse of Split.
func Join(a Artifacts) string {
	if a.Documentation == nil {
		return a.Source
	}
	return a.Source + "\n" + Sentinel + "\n" + *a.Documentation
}

// Parse splits a raw response and strips fences from the source. The
// documentation is kept verbatim so fenced blocks inside it survive.
func Parse(resp string) Artifacts {
	a := Split(strings.TrimSpace(resp))
	a.Source = StripFences(a.Source)
	return a
}
