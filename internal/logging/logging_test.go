package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cvrpbc/internal/config"
)

func TestConfigureWritesStdoutAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cvrpbc.log")
	var stdout bytes.Buffer
	l := log.New()
	closer, err := configure(l, config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1}, &stdout)
	require.NoError(t, err)

	l.WithField("job", "j1").Debug("solve queued")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), "solve queued")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "job=j1")
}

func TestConfigureLevel(t *testing.T) {
	var stdout bytes.Buffer
	l := log.New()
	_, err := configure(l, config.LogConfig{Level: "warn"}, &stdout)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown")

	_, err = configure(l, config.LogConfig{Level: "loud"}, &stdout)
	assert.Error(t, err)
}
