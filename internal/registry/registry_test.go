package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup_CaseInsensitive(t *testing.T) {
	r := New([]Entry{{Host: "api.openai.com", AuthScheme: AuthOpenAI, HTTPS: true}})

	u, ok := r.Lookup("API.OpenAI.COM")
	assert.True(t, ok)
	assert.Equal(t, "api.openai.com", u.Host)
	assert.Equal(t, AuthOpenAI, u.AuthScheme)
	assert.Equal(t, "https", u.Scheme())
}

func TestLookup_NotWhitelisted(t *testing.T) {
	r := New([]Entry{{Host: "api.openai.com", HTTPS: true}})
	_, ok := r.Lookup("evil.example.com")
	assert.False(t, ok)
}

func TestNew_UnpinnedSchemeLeftEmpty(t *testing.T) {
	r := New([]Entry{{Host: "api.moonshot.cn", HTTPS: true}})
	u, ok := r.Lookup("api.moonshot.cn")
	assert.True(t, ok)
	assert.Equal(t, AuthScheme(""), u.AuthScheme)
}
