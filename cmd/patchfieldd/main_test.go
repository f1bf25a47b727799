package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "patchfieldd dev (protocol 6)\n", out.String())
}

func TestServeRejectsBadConfig(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"serve", "--config", "/nonexistent/patchfield.yaml"})
	assert.Error(t, root.Execute())
}

func TestVersionRejectsArgs(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"version", "extra"})
	assert.Error(t, root.Execute())
}
