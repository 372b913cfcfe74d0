package interceptors

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func mustProxies(t *testing.T, specs ...string) TrustedProxies {
	t.Helper()
	p, err := ParseTrustedProxies(specs)
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	return p
}

func TestParseTrustedProxies(t *testing.T) {
	p := mustProxies(t, "10.0.0.0/8", " 192.0.2.1 ", "", "2001:db8::/32")
	if len(p) != 3 {
		t.Fatalf("len = %d, want 3", len(p))
	}
	for _, tt := range []struct {
		addr string
		want bool
	}{
		{"10.20.30.40", true},
		{"192.0.2.1", true},
		{"192.0.2.2", false},
		{"::ffff:10.1.1.1", true},
		{"2001:db8::7", true},
		{"203.0.113.7", false},
	} {
		if got := p.Contains(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}

	for _, bad := range []string{"10.0.0.0/33", "proxy.internal", "1.2.3"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Errorf("ParseTrustedProxies(%q) should fail", bad)
		}
	}
}

func TestTrustedProxies_ClientIP(t *testing.T) {
	proxies := mustProxies(t, "10.0.0.0/8")
	tests := []struct {
		name    string
		proxies TrustedProxies
		remote  string
		headers map[string]string
		want    string
	}{
		{"no proxies ignores forwarded", nil, "203.0.113.7:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.7"},
		{"untrusted peer ignores forwarded", proxies, "203.0.113.7:4000", map[string]string{"X-Forwarded-For": "1.2.3.4", "X-Real-IP": "5.5.5.5"}, "203.0.113.7"},
		{"trusted peer uses forwarded", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "1.2.3.4"},
		{"rightmost untrusted hop", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "6.6.6.6, 1.2.3.4, 10.0.0.3"}, "1.2.3.4"},
		{"all hops trusted", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "10.0.0.5, 10.0.0.3"}, "10.0.0.5"},
		{"garbage hop stops walk", proxies, "10.0.0.2:4000", map[string]string{"X-Forwarded-For": "not-an-ip"}, "10.0.0.2"},
		{"real ip from trusted peer", proxies, "10.0.0.2:4000", map[string]string{"X-Real-IP": "4.4.4.4"}, "4.4.4.4"},
		{"peer without port", nil, "9.9.9.9", nil, "9.9.9.9"},
		{"unknown peer", proxies, "", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := tt.proxies.ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_PrefersResolvedAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.2:4000"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := ClientIP(r); got != "10.0.0.2" {
		t.Errorf("ClientIP without RequestLog = %q, want peer", got)
	}

	var got string
	h := RequestLog(nil, nil, mustProxies(t, "10.0.0.0/8"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got != "1.2.3.4" {
		t.Errorf("ClientIP after RequestLog = %q, want 1.2.3.4", got)
	}
}
