package postprocess

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestStripFakeImagesRemovesPlaceholders(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "via.placeholder.com",
			in:   "before\n![chart](https://via.placeholder.com/600x400)\nafter",
			want: "before\n\nafter",
		},
		{
			name: "example.com",
			in:   "![diagram](http://example.com/diagram.png)",
			want: "",
		},
		{
			name: "text query param",
			in:   "![x](https://img.host/gen?text=Hello)",
			want: "",
		},
		{
			name: "placeholder path",
			in:   "![p](https://cdn.site/placeholder/img.png)",
			want: "",
		},
		{
			name: "real image untouched",
			in:   "![logo](https://upload.wikimedia.org/logo.png)",
			want: "![logo](https://upload.wikimedia.org/logo.png)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, StripFakeImages(tc.in))
		})
	}
}

func TestStripFakeImagesCollapsesBlankRuns(t *testing.T) {
	in := "a\n\n\n\n\nb"
	require.Equal(t, "a\n\nb", StripFakeImages(in))
}

func TestStripFakeImagesIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	urls := gen.OneConstOf(
		"https://via.placeholder.com/300",
		"https://example.com/x.png",
		"https://real.host/photo.jpg",
		"https://img.io/gen?text=Hi",
		"https://cdn.site/placeholder/a.png",
		"https://upload.wikimedia.org/logo.svg",
	)
	properties.Property("stripping twice equals stripping once", prop.ForAll(
		func(prefix string, url string, suffix string) bool {
			text := prefix + "![img](" + url + ")" + suffix
			once := StripFakeImages(text)
			return StripFakeImages(once) == once
		},
		gen.AlphaString(),
		urls,
		gen.AlphaString(),
	))
	properties.Property("non-placeholder images survive", prop.ForAll(
		func(alt string) bool {
			img := "![" + alt + "](https://photos.example.org.real/pic.jpg)"
			// Host contains "example.org.real", not the literal example.com
			// pattern; a URL outside the placeholder set must survive.
			if strings.Contains(img, "example.com") {
				return true
			}
			return strings.Contains(StripFakeImages("text "+img), img)
		},
		gen.AlphaString(),
	))
	properties.TestingRun(t)
}

func TestIsRefusal(t *testing.T) {
	require.True(t, IsRefusal("I cannot access real-time information, sorry."))
	require.True(t, IsRefusal("Unfortunately my training data ends in 2023."))
	require.True(t, IsRefusal("AS AN AI LANGUAGE MODEL, I CANNOT do that"))
	require.False(t, IsRefusal("The weather in Paris today is sunny, 24°C."))
	require.False(t, IsRefusal(""))
}
