package profile_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mooncourt/arcana/profile"
)

func TestRole_Valid(t *testing.T) {
	for _, r := range []profile.Role{profile.RoleClient, profile.RoleReader, profile.RoleAdmin, profile.RoleSuperAdmin} {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, profile.Role("wizard").Valid())
	assert.False(t, profile.Role("").Valid())
}

func TestStaticService(t *testing.T) {
	svc := &profile.StaticService{Profiles: map[string]profile.Profile{
		"alice": {ID: "alice", Role: profile.RoleReader},
	}}

	p, err := svc.GetProfile(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, profile.RoleReader, p.Role)

	_, err = svc.GetProfile(context.Background(), "bob")
	require.ErrorIs(t, err, profile.ErrUnknownUser)
}

func TestHTTPService_GetProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch r.URL.Path {
		case "/profiles/alice":
			_ = json.NewEncoder(w).Encode(profile.Profile{ID: "alice", Role: profile.RoleReader})
		case "/profiles/ghost":
			http.NotFound(w, r)
		case "/profiles/broken":
			_, _ = w.Write([]byte("{not json"))
		case "/profiles/weird":
			_ = json.NewEncoder(w).Encode(profile.Profile{ID: "weird", Role: "wizard"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	svc, err := profile.NewHTTPService(server.URL, 0)
	require.NoError(t, err)
	ctx := context.Background()

	p, err := svc.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.Equal(t, profile.RoleReader, p.Role)

	_, err = svc.GetProfile(ctx, "ghost")
	require.ErrorIs(t, err, profile.ErrUnknownUser)

	_, err = svc.GetProfile(ctx, "broken")
	require.Error(t, err)

	_, err = svc.GetProfile(ctx, "weird")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")

	_, err = svc.GetProfile(ctx, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	_, err = svc.GetProfile(ctx, "")
	require.Error(t, err)
}

func TestNewHTTPService_Validation(t *testing.T) {
	_, err := profile.NewHTTPService("", 0)
	require.Error(t, err)

	svc, err := profile.NewHTTPService("http://example.com/", 0)
	require.NoError(t, err)
	require.NotNil(t, svc)
}
