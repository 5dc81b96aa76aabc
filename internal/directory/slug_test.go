package directory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Lavadero Ñandú":       "lavadero-nandu",
		"  El Sol!! ":          "el-sol",
		"Café 24/7":            "cafe-24-7",
		"AUTO--SPA__Premium":   "auto-spa-premium",
		"***":                  "lavadero",
		"":                     "lavadero",
		"Lavadería São João 2": "lavaderia-sao-joao-2",
	}

	for name, want := range cases {
		assert.Equal(t, want, Slugify(name), name)
	}
}

func TestSlugifyTruncates(t *testing.T) {
	slug := Slugify(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len(slug), maxSlugLength)
	assert.False(t, strings.HasSuffix(slug, "-"))
}

func TestNextFreeSlug(t *testing.T) {
	assert.Equal(t, "sol", nextFreeSlug("sol", nil))
	assert.Equal(t, "sol", nextFreeSlug("sol", []string{"sol-2"}))
	assert.Equal(t, "sol-2", nextFreeSlug("sol", []string{"sol"}))
	assert.Equal(t, "sol-4", nextFreeSlug("sol", []string{"sol", "sol-2", "sol-3", "sol-5"}))
}
