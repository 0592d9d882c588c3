package util

import (
	"net/http"
	"testing"
	"time"

	"github.com/ppiankov/extralife/internal/model"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.internal:3128", "", "localhost,.svc")

	tests := []struct {
		url       string
		wantProxy bool
	}{
		{"https://stage.buildwithjuno.com/mint_platform/v1/clabes", true},
		{"http://rpc.example.com", true},
		{"http://localhost:8545", false},
		{"http://juno.svc/clabes", false},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		got, err := proxy(req)
		if err != nil {
			t.Fatalf("proxy(%s) error = %v", tt.url, err)
		}
		if (got != nil) != tt.wantProxy {
			t.Errorf("proxy(%s) = %v, wantProxy %v", tt.url, got, tt.wantProxy)
		}
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	c := NewHTTPClient(0, model.ProxyConfig{})
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Error("expected *http.Transport")
	}
}
