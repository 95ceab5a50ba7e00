package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-checkout/internal/domain"
)

func TestIdentity_Owner(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    domain.CartOwner
		wantErr bool
	}{
		{
			name:    "user wins over session",
			headers: map[string]string{HeaderUserID: "u1", HeaderSessionToken: "s1"},
			want:    domain.UserOwner("u1"),
		},
		{
			name:    "guest session",
			headers: map[string]string{HeaderSessionToken: "s1"},
			want:    domain.SessionOwner("s1"),
		},
		{
			name:    "anonymous",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			owner, err := FromRequest(req).Owner()
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidOwner)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, owner)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderRole, "Admin")
	rec = httptest.NewRecorder()
	h(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
