package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_LevelFollowsVerbose(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, false)
	log.Debug("hidden")
	log.Info("shown", "task", 251)
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
	require.Contains(t, out, "task=251")
	require.NotContains(t, out, "\033[")

	buf.Reset()
	New(&buf, true).Debug("now visible")
	require.Contains(t, buf.String(), "now visible")
}

func TestOrDiscard(t *testing.T) {
	require.NotNil(t, OrDiscard(nil))
	log := New(&bytes.Buffer{}, false)
	require.Same(t, log, OrDiscard(log))
}
