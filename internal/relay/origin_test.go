package relay

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	appURL := "https://relay.example.com/ws"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		{"empty origin", "", false, true},
		{"app origin", "https://relay.example.com", false, true},

		{"different host", "https://evil.com", false, false},
		{"different port", "https://relay.example.com:9090", false, false},
		{"http instead of https", "http://relay.example.com", false, false},
		{"subdomain", "https://sub.relay.example.com", false, false},

		{"localhost dev", "http://localhost:3030", true, true},
		{"127.0.0.1 dev", "http://127.0.0.1:3000", true, true},
		{"ipv6 loopback dev", "http://[::1]:3030", true, true},
		{"localhost prod rejected", "http://localhost:3030", false, false},
		{"garbage dev", "://nope", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(appURL, tt.isDevelopment)
			r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestNewCheckOrigin_InvalidAppURLOnlyAllowsEmpty(t *testing.T) {
	checker := NewCheckOrigin("not a url", false)

	r, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/ws", nil)
	assert.True(t, checker(r))

	r.Header.Set("Origin", "https://relay.example.com")
	assert.False(t, checker(r))
}
