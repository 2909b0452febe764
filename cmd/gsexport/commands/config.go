package commands

import (
	"errors"
	"fmt"
	"gsexport/lib/configutil"
	"gsexport/lib/platforms/gradescope/core"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	envEmail    = "GRADESCOPE_EMAIL"
	envPassword = "GRADESCOPE_PASSWORD"
)

type Config struct {
	BaseUrl    string `json:"base_url"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	CookieFile string `json:"cookie_file"`
	Folder     string `json:"folder"`
	Headful    bool   `json:"headful"`
	ChromePath string `json:"chrome_path"`
}

var ErrInvalidFolder = errors.New("invalid output folder")

// dotenvLookup returns a getenv that falls back to the values in the
// dotenv file at path. variables set in the real environment win, a missing
// file means no fallback.
func dotenvLookup(path string, getenv func(string) string) (func(string) string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return getenv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return func(key string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return values[key]
	}, nil
}

// resolveConfig layers the config file, the environment and any flags that
// were explicitly set, in that order of priority.
func resolveConfig(cmd *cobra.Command, getenv func(string) string) (Config, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	cfg, err := configutil.ReadOptional[Config](configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}

	if cfg.BaseUrl == "" {
		cfg.BaseUrl = core.DefaultBaseUrl
	}
	if cfg.Folder == "" {
		cfg.Folder, _ = flags.GetString("folder")
	}
	if cfg.CookieFile == "" {
		cfg.CookieFile, _ = flags.GetString("cookies")
	}

	if email := getenv(envEmail); email != "" {
		cfg.Email = email
	}
	if password := getenv(envPassword); password != "" {
		cfg.Password = password
	}

	if flags.Changed("folder") {
		cfg.Folder, _ = flags.GetString("folder")
	}
	if flags.Changed("cookies") {
		cfg.CookieFile, _ = flags.GetString("cookies")
	}
	if flags.Changed("headful") {
		cfg.Headful, _ = flags.GetBool("headful")
	}

	return cfg, nil
}

func validateFolder(folder string) error {
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidFolder, folder)
	}
	return nil
}

func (c Config) clientOptions() core.ClientOptions {
	return core.ClientOptions{
		BaseUrl:    c.BaseUrl,
		Email:      c.Email,
		Password:   c.Password,
		CookieFile: c.CookieFile,
	}
}
