package probe

import (
	"strings"
	"unicode/utf8"
)

// DefaultSampleLimit is how many characters of a non-JSON body are kept.
const DefaultSampleLimit = 800

// Classifier decides whether a response body looks like a framework or
// gateway error page rather than backend output. Matching is
// case-insensitive substring search.
type Classifier struct {
	// DocumentMarkers only count when the response is not JSON.
	DocumentMarkers []string `yaml:"document_markers" json:"document_markers"`
	// ErrorPhrases count regardless of content type.
	ErrorPhrases []string `yaml:"error_phrases" json:"error_phrases"`
}

func DefaultClassifier() Classifier {
	return Classifier{
		DocumentMarkers: []string{"<!doctype", "<html"},
		ErrorPhrases: []string{
			"this page could not be found",
			"next.js",
			"application error",
			"404",
		},
	}
}

// IsHTMLError reports whether sample looks like an error page.
func (c Classifier) IsHTMLError(sample string, isJSON bool) bool {
	s := strings.ToLower(sample)
	if !isJSON && containsAny(s, c.DocumentMarkers) {
		return true
	}
	return containsAny(s, c.ErrorPhrases)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Sample returns the first n characters (runes) of s.
func Sample(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
