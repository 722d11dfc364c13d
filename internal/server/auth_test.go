package server

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		keys      []string
		header    string
		wantCode  int
		challenge bool
	}{
		{name: "disabled", keys: nil, header: "", wantCode: http.StatusOK},
		{name: "missing header", keys: []string{"secret"}, wantCode: http.StatusUnauthorized, challenge: true},
		{name: "wrong token", keys: []string{"secret"}, header: "Bearer wrong", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "basic scheme", keys: []string{"secret"}, header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "correct", keys: []string{"secret"}, header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", keys: []string{"secret"}, header: "bearer secret", wantCode: http.StatusOK},
		{name: "rotated old key", keys: []string{"new", "old"}, header: "Bearer old", wantCode: http.StatusOK},
		{name: "rotated new key", keys: []string{"new", "old"}, header: "Bearer new", wantCode: http.StatusOK},
		{name: "prefix of a key", keys: []string{"secret"}, header: "Bearer sec", wantCode: http.StatusUnauthorized, challenge: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := authMiddleware(tc.keys, okHandler)
			req := httptest.NewRequest(http.MethodPost, "/api/passes", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Errorf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if got := w.Header().Get("WWW-Authenticate") != ""; got != tc.challenge {
				t.Errorf("WWW-Authenticate present=%v, want %v", got, tc.challenge)
			}
		})
	}
}

func TestParseAPIKeys(t *testing.T) {
	t.Parallel()

	cases := map[string][]string{
		"":           nil,
		" , ":        nil,
		"secret":     {"secret"},
		"new, old":   {"new", "old"},
		"a,,b , c ,": {"a", "b", "c"},
	}
	for in, want := range cases {
		if got := parseAPIKeys(in); !slices.Equal(got, want) {
			t.Errorf("parseAPIKeys(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(req); got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
