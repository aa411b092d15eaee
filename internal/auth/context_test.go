package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	var (
		gotID    int64
		gotRoles []string
	)
	h := Gate("X-Actor-Id", "X-Actor-Roles")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, _ = UserID(r.Context())
		gotRoles = Roles(r.Context())
	}))

	cases := []struct {
		actor, roles string
		status       int
		id           int64
		want         []string
	}{
		{actor: "17", roles: "registrar, principal,", status: http.StatusOK, id: 17, want: []string{"registrar", "principal"}},
		{actor: "17", status: http.StatusOK, id: 17},
		{actor: "", status: http.StatusUnauthorized},
		{actor: "-3", status: http.StatusUnauthorized},
		{actor: "abc", status: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		gotID, gotRoles = 0, nil
		req := httptest.NewRequest(http.MethodPost, "/api/archive/student", nil)
		req.Header.Set("X-Actor-Id", tc.actor)
		req.Header.Set("X-Actor-Roles", tc.roles)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, tc.status, rec.Code, "actor %q", tc.actor)
		assert.Equal(t, tc.id, gotID)
		assert.Equal(t, tc.want, gotRoles)
	}
}
