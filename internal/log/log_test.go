package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Validate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Level = "loud"
	opts.Format = "xml"
	assert.Len(t, opts.Validate(), 2)
}

func TestOptions_AddFlags(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--log.level=debug", "--log.format=json"}))
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, "json", opts.Format)
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fitload.log")
	logger, err := New(&Options{Level: "info", Format: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"visible"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_RejectsInvalidOptions(t *testing.T) {
	_, err := New(&Options{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
