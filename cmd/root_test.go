// File: cmd/root_test.go
package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "webpilot", root.Use)
	assert.Equal(t, Version, root.Version)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
}

func TestRunCommandFlags(t *testing.T) {
	root := NewRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	for _, flag := range []string{"url", "headless", "max-steps", "model"} {
		assert.NotNil(t, run.Flags().Lookup(flag), "missing flag %s", flag)
	}
}

func TestRunCommandRequiresPrompt(t *testing.T) {
	root := NewRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.Error(t, run.Args(run, nil))
	assert.NoError(t, run.Args(run, []string{"open", "example.com"}))
}
