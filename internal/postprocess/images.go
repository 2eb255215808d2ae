// Package postprocess cleans model output before it reaches the client:
// stripping fabricated markdown image references and detecting refusals that
// ignore supplied tool data.
package postprocess

import (
	"regexp"
	"strings"
)

// placeholderPatterns matches the URL substrings that identify a fabricated
// image directive. Real image URLs outside this set are never touched.
var placeholderPatterns = []string{
	"via.placeholder.com",
	"example.com",
	"?text=",
	"/placeholder",
}

var (
	markdownImageRE = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]+)[^)]*\)`)
	blankRunRE      = regexp.MustCompile(`\n{3,}`)
)

// StripFakeImages removes markdown image directives whose URL matches a
// placeholder pattern, then collapses runs of three or more consecutive
// newlines down to two. The transform is idempotent.
func StripFakeImages(text string) string {
	out := markdownImageRE.ReplaceAllStringFunc(text, func(match string) string {
		groups := markdownImageRE.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		url := strings.ToLower(groups[1])
		for _, pattern := range placeholderPatterns {
			if strings.Contains(url, pattern) {
				return ""
			}
		}
		return match
	})
	return blankRunRE.ReplaceAllString(out, "\n\n")
}
