package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/ysmood/gson"
)

func TestIsAPIRequest(t *testing.T) {
	tests := []struct {
		name string
		kind proto.NetworkResourceType
		url  string
		want bool
	}{
		{"xhr graphql", proto.NetworkResourceTypeXHR, "https://api.search-inventory.toyota.com/graphql", true},
		{"fetch graphql with query", proto.NetworkResourceTypeFetch, "https://api.example.com/graphql?op=vehicles", true},
		{"document", proto.NetworkResourceTypeDocument, "https://api.example.com/graphql", false},
		{"other xhr", proto.NetworkResourceTypeXHR, "https://api.example.com/graphql/schema.json", false},
		{"script", proto.NetworkResourceTypeScript, "https://cdn.example.com/app.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAPIRequest(tt.kind, tt.url, "/graphql"))
		})
	}
}

func TestToHeader(t *testing.T) {
	h := toHeader(proto.NetworkHeaders{
		":authority":      gson.New("api.example.com"),
		"x-aws-waf-token": gson.New("token-123"),
		"User-Agent":      gson.New("Mozilla/5.0"),
	})

	assert.Equal(t, "token-123", h.Get("X-Aws-Waf-Token"))
	assert.Equal(t, "Mozilla/5.0", h.Get("User-Agent"))
	assert.Len(t, h, 2)
}

func TestRandomUserAgent(t *testing.T) {
	assert.Contains(t, userAgents, RandomUserAgent())
}
