package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	allowedOrigins := []string{"http://localhost:5173", "https://widget.example.com"}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	corsHandler := CORS(allowedOrigins)(handler)

	tests := []struct {
		name           string
		origin         string
		method         string
		expectedOrigin string
	}{
		{
			name:           "allowed origin",
			origin:         "http://localhost:5173",
			method:         http.MethodGet,
			expectedOrigin: "http://localhost:5173",
		},
		{
			name:           "widget origin",
			origin:         "https://widget.example.com",
			method:         http.MethodGet,
			expectedOrigin: "https://widget.example.com",
		},
		{
			name:   "disallowed origin",
			origin: "http://evil.com",
			method: http.MethodGet,
		},
		{
			name:           "preflight request",
			origin:         "http://localhost:5173",
			method:         http.MethodOptions,
			expectedOrigin: "http://localhost:5173",
		},
		{
			name:   "no origin header",
			method: http.MethodGet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			rec := httptest.NewRecorder()
			corsHandler.ServeHTTP(rec, req)

			acao := rec.Header().Get("Access-Control-Allow-Origin")
			if acao != tt.expectedOrigin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.expectedOrigin, acao)
			}
		})
	}
}
