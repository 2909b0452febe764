package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Email    string `json:"email"`
	Folder   string `json:"folder"`
	Headless bool   `json:"headless"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		// comments are fine in json5
		email: "a@example.com",
		folder: "pdf",
	}`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		email: "b@example.com",
		headless: true,
	}`), 0600))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, testConfig{
		Email:    "b@example.com",
		Folder:   "pdf",
		Headless: true,
	}, cfg)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))

	cfg, err := ReadOptional[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.NoError(t, err)
	require.Equal(t, testConfig{}, cfg)
}

func TestReadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{email: `), 0600))

	_, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.Error(t, err)
	require.False(t, os.IsNotExist(err))
}

func TestLocalName(t *testing.T) {
	require.Equal(t, filepath.Join("dir", "config.local.json5"), localName(filepath.Join("dir", "config.json5")))
	require.Equal(t, "telemetry.local.json5", localName("telemetry.json5"))
}
