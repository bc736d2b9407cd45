package extract

import "strings"

// Operators that only appear when content-stream code leaks into the text
// layer of a broken PDF.
var operatorPatterns = []string{
	"currentpoint", "gsave", "grestore", "newpath", "closepath",
	"setrgbcolor", "setgray", "setlinewidth", "showpage",
	"moveto", "lineto", "curveto",
}

// isOperatorText reports whether text looks like leaked PDF or PostScript
// operator code rather than document content.
func isOperatorText(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)

	if strings.Contains(lower, "null def") {
		return true
	}
	if strings.Contains(text, "/") && (strings.Contains(text, " def ") || strings.HasSuffix(text, " def")) {
		return true
	}
	for _, p := range operatorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	// Several PostScript-style /Name tokens in one row is operator code,
	// unless the text is a URL.
	if strings.Contains(text, "://") || strings.Contains(lower, "http") {
		return false
	}
	nameCount := 0
	for _, word := range strings.Fields(text) {
		if len(word) > 1 && word[0] == '/' && isNameToken(word[1:]) {
			nameCount++
		}
	}
	return nameCount >= 3
}

func isNameToken(s string) bool {
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '_' || c == '@') {
			return false
		}
	}
	return true
}

// hasExcessiveNonPrintable reports whether more than 10% of the text is
// control characters.
func hasExcessiveNonPrintable(text string) bool {
	if text == "" {
		return false
	}
	bad := 0
	total := 0
	for _, r := range text {
		total++
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			bad++
		}
		if r >= 0x7F && r <= 0x9F {
			bad++
		}
	}
	return float64(bad)/float64(total) > 0.1
}
