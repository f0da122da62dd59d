package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-ledger/pkg/auth"
	"github.com/angelmondragon/settlement-ledger/pkg/config"
	"github.com/angelmondragon/settlement-ledger/pkg/enums"
)

func TestAuthRejectsMissingToken(t *testing.T) {
	handler := Auth(testSigner(t, "issuer"), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	handler := Auth(testSigner(t, "issuer"), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthRejectsForeignIssuer(t *testing.T) {
	token := mintTestToken(t, testSigner(t, "someone-else"), uuid.New(), enums.ActorRoleAdmin)

	handler := Auth(testSigner(t, "issuer"), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestAuthAllowsValidToken(t *testing.T) {
	signer := testSigner(t, "issuer")
	actorID := uuid.New()
	token := mintTestToken(t, signer, actorID, enums.ActorRoleService)

	var captured struct {
		actor uuid.UUID
		role  enums.ActorRole
	}
	handler := Auth(signer, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.actor = ActorIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if captured.actor != actorID {
		t.Fatalf("expected actor %s got %s", actorID, captured.actor)
	}
	if captured.role != enums.ActorRoleService {
		t.Fatalf("expected role service got %s", captured.role)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.ActorRoleAdmin, enums.ActorRoleReporting)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		role enums.ActorRole
		want int
	}{
		{enums.ActorRoleAdmin, http.StatusOK},
		{enums.ActorRoleReporting, http.StatusOK},
		{enums.ActorRoleService, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), uuid.New(), tt.role))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tt.want {
			t.Fatalf("role %q: expected %d got %d", tt.role, tt.want, resp.Code)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		want   string
		ok     bool
	}{
		"bearer":     {"Bearer abc", "abc", true},
		"lowercase":  {"bearer  abc ", "abc", true},
		"bare token": {"abc", "abc", true},
		"empty":      {"", "", false},
		"no token":   {"Bearer ", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tc.header)
			got, ok := bearerToken(req)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("got (%q, %v) want (%q, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func testSigner(t *testing.T, issuer string) *auth.Signer {
	t.Helper()
	signer, err := auth.NewSigner(config.JWTConfig{Secret: "secret", Issuer: issuer, ExpirationMinutes: 10})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func mintTestToken(t *testing.T, signer *auth.Signer, actorID uuid.UUID, role enums.ActorRole) string {
	t.Helper()
	token, err := signer.Mint(auth.TokenPayload{
		ActorID: actorID,
		Role:    role,
		JTI:     uuid.NewString(),
	}, 0)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}
