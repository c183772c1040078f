package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasServe(t *testing.T) {
	root := newRootCommand()

	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
	assert.NotNil(t, serve.Flags().Lookup("addr"))
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestServeFailsOnInvalidConfig(t *testing.T) {
	t.Setenv("LYRIC_STUDIO_MUSIC_RELAY_URL", "")

	root := newRootCommand()
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
