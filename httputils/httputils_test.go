package httputils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/helixhq/helix/backend/services/metadata"
	"github.com/helixhq/helix/backend/services/types"
)

// overrideEnvironment forces a deterministic app environment for the duration
// of a test.
func overrideEnvironment(t *testing.T, env metadata.AppEnvironment) {
	t.Helper()

	savedGetAppEnvironment := metadata.GetAppEnvironment
	t.Cleanup(func() {
		metadata.GetAppEnvironment = savedGetAppEnvironment
	})
	metadata.GetAppEnvironment = func() metadata.AppEnvironment {
		return env
	}
}

func TestGetAccessToken(t *testing.T) {
	overrideEnvironment(t, metadata.EnvDev)

	var tests = []struct {
		name, header, expected string
		err                    bool
	}{
		{"Valid Authorization header", "Bearer test_valid_token", "test_valid_token", false},
		{"Malformed Authorization header", "test_malformed_token", "", true},
		{"Empty Authorization header", "", "", true},
		{"Undefined Authorization header", "Bearer undefined", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "https://localhost", nil)
			r.Header.Add("Authorization", tt.header)
			token, err := GetAccessToken(r)
			if err != nil && !tt.err {
				t.Errorf("did not expect error, got: %s", err)
			}
			if err == nil && tt.err {
				t.Errorf("expected an error, got token %q", token)
			}

			if token != types.AccessToken(tt.expected) {
				t.Errorf("expected token to be %s, got %s", tt.expected, token)
			}
		})
	}
}

func TestGetAccessTokenLocalEnv(t *testing.T) {
	overrideEnvironment(t, metadata.EnvLocalDev)

	r := httptest.NewRequest(http.MethodPost, "https://localhost", nil)
	token, err := GetAccessToken(r)
	if err != nil {
		t.Errorf("did not expect error in local env, got: %s", err)
	}
	if token != "" {
		t.Errorf("expected empty token in local env, got %q", token)
	}
}

func TestParseRequest(t *testing.T) {
	var tests = []struct {
		name     string
		request  ServerRequest
		jsonBody string
		expected *WorkspaceAssignRequest
	}{
		{"Valid assign request", &WorkspaceAssignRequest{}, `{
			"session_id": "session-1234"
		}`, &WorkspaceAssignRequest{
			SessionID: types.SessionID("session-1234"),
		}},
		{"Empty assign request", &WorkspaceAssignRequest{}, `{}`, &WorkspaceAssignRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.NewReader(tt.jsonBody)
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "https://localhost", body)

			if err := ParseRequest(w, r, tt.request); err != nil {
				t.Errorf("did not expect error, got: %s", err)
			}

			got := tt.request.(*WorkspaceAssignRequest)
			if got.SessionID != tt.expected.SessionID {
				t.Errorf("expected session id %q, got %q", tt.expected.SessionID, got.SessionID)
			}
			if got.ResultChan == nil {
				t.Error("expected the result channel to be created")
			}
		})
	}
}

func TestParseRequestMalformedBody(t *testing.T) {
	body := strings.NewReader(`{not json`)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "https://localhost", body)

	if err := ParseRequest(w, r, &WorkspaceAssignRequest{}); err == nil {
		t.Error("expected an error for a malformed body")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestVerifyRequestType(t *testing.T) {
	var tests = []struct {
		name, method string
	}{
		{"GET Request", http.MethodGet},
		{"POST Request", http.MethodPost},
		{"PUT Request", http.MethodPut},
	}

	methodsToTest := []string{
		http.MethodHead,
		http.MethodOptions,
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodPatch,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, method := range methodsToTest {
				w := httptest.NewRecorder()
				r := httptest.NewRequest(method, "https://localhost", nil)

				err := VerifyRequestType(w, r, tt.method)
				if err != nil && tt.method == method {
					t.Errorf("did not expect error, got: %s", err)
				}
				if err == nil && tt.method != method {
					t.Errorf("expected an error for method %s", method)
				}
			}
		})
	}
}

func TestEnableCORS(t *testing.T) {
	corsHandler := EnableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(""))
	})

	srv := httptest.NewServer(http.HandlerFunc(corsHandler))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Errorf("did not expect error, got: %s", err)
	}

	wantHeaders := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "Origin Accept Content-Type X-Requested-With Authorization",
		"Access-Control-Allow-Methods": "GET POST PUT OPTIONS",
	}

	// Check that all CORS headers were added to the response
	for k, v := range wantHeaders {
		header := resp.Header.Get(k)
		if header != v {
			t.Errorf("header %v was not added to request", k)
		}
	}
}
