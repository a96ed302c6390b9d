package main

import (
	"testing"

	"github.com/effective-security/mcpchat/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_DialServer_LocalBuiltins(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "fake-key")

	srv, err := dialServer(t.Context(), &tools.ServerConfig{
		ID:        "websearch",
		Transport: tools.TransportLocal,
		Command:   "tavily",
	})
	require.NoError(t, err)
	defer srv.Close()

	defs, err := srv.ListTools(t.Context())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "WebSearch", defs[0].Name)

	_, err = dialServer(t.Context(), &tools.ServerConfig{
		ID:        "bogus",
		Transport: tools.TransportLocal,
		Command:   "no-such-builtin",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, tools.ErrConfig)
}

func Test_NewSessionStore(t *testing.T) {
	s, err := newSessionStore("", "", "mcpchat")
	require.NoError(t, err)
	require.NotNil(t, s)

	s, err = newSessionStore(t.TempDir(), "", "mcpchat")
	require.NoError(t, err)
	require.NotNil(t, s)

	session, err := s.Create(t.Context(), "boot")
	require.NoError(t, err)
	loaded, err := s.Load(t.Context(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "boot", loaded.Title)
}
