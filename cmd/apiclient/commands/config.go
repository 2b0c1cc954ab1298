package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/apiclient/internal/constants"
	"github.com/fivetwenty-io/apiclient/pkg/tokenstore"
)

// ConfigDirName is the directory under $HOME holding config and tokens.
const ConfigDirName = ".apiclient"

const (
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
)

// Config represents the CLI configuration.
type Config struct {
	BaseURL string `json:"base_url"          yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Output  string `json:"output"            yaml:"output"`

	Timeout     string `json:"timeout,omitempty"      yaml:"timeout,omitempty"`
	RetryLimit  *int   `json:"retry_limit,omitempty"  yaml:"retry_limit,omitempty"`
	RefreshSkew string `json:"refresh_skew,omitempty" yaml:"refresh_skew,omitempty"`

	// Token storage
	TokenStore    string `json:"token_store,omitempty"    yaml:"token_store,omitempty"`
	TokenPath     string `json:"token_path,omitempty"     yaml:"token_path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"     yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	NATSURL       string `json:"nats_url,omitempty"       yaml:"nats_url,omitempty"`

	// OAuth2 refresh
	TokenURL     string `json:"token_url,omitempty"     yaml:"token_url,omitempty"`
	GrantType    string `json:"grant_type,omitempty"    yaml:"grant_type,omitempty"`
	ClientID     string `json:"client_id,omitempty"     yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
}

// configSetters maps each settable key to its validating setter.
var configSetters = map[string]func(*Config, string) error{
	"base_url": func(c *Config, v string) error { c.BaseURL = v; return nil },
	"api_key":  func(c *Config, v string) error { c.APIKey = v; return nil },
	"output": func(c *Config, v string) error {
		if !slices.Contains([]string{constants.FormatTable, constants.FormatJSON, constants.FormatYAML}, v) {
			return fmt.Errorf("%w: %s", constants.ErrInvalidOutputFormat, v)
		}

		c.Output = v

		return nil
	},
	"timeout":      durationSetter(func(c *Config, v string) { c.Timeout = v }),
	"refresh_skew": durationSetter(func(c *Config, v string) { c.RefreshSkew = v }),
	"retry_limit": func(c *Config, v string) error {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return fmt.Errorf("%w: %s", constants.ErrInvalidRetryLimit, v)
		}

		c.RetryLimit = &limit

		return nil
	},
	"token_store": func(c *Config, v string) error {
		switch tokenstore.Type(v) {
		case tokenstore.TypeMemory, tokenstore.TypeFile, tokenstore.TypeNATS, tokenstore.TypeRedis:
			c.TokenStore = v

			return nil
		default:
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedTokenStore, v)
		}
	},
	"token_path":     func(c *Config, v string) error { c.TokenPath = v; return nil },
	"redis_addr":     func(c *Config, v string) error { c.RedisAddr = v; return nil },
	"redis_password": func(c *Config, v string) error { c.RedisPassword = v; return nil },
	"nats_url":       func(c *Config, v string) error { c.NATSURL = v; return nil },
	"token_url":      func(c *Config, v string) error { c.TokenURL = v; return nil },
	"grant_type": func(c *Config, v string) error {
		if v != grantRefreshToken && v != grantClientCredentials {
			return fmt.Errorf("%w: %s", constants.ErrUnsupportedGrantType, v)
		}

		c.GrantType = v

		return nil
	},
	"client_id":     func(c *Config, v string) error { c.ClientID = v; return nil },
	"client_secret": func(c *Config, v string) error { c.ClientSecret = v; return nil },
}

func durationSetter(set func(*Config, string)) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: %s", constants.ErrInvalidTimeout, v)
		}

		set(c, v)

		return nil
	}
}

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  "Show and change the settings used to build the API client",
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigSetCommand())
	cmd.AddCommand(newConfigUnsetCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Long:  "Display the current CLI configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			config := loadConfig().masked()

			switch viper.GetString("output") {
			case constants.FormatJSON, constants.FormatYAML:
				return writeStructured(cmd.OutOrStdout(), viper.GetString("output"), config)
			default:
				return renderProperties(cmd.OutOrStdout(), config.rows())
			}
		},
	}
}

func newConfigSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long:  "Set a configuration value. Keys: " + strings.Join(configKeys(), ", "),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			setter, ok := configSetters[key]
			if !ok {
				return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
			}

			config := loadConfig()

			err := setter(config, value)
			if err != nil {
				return err
			}

			err = saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			viper.Set(key, value)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s\n", key)

			return nil
		},
	}
}

func newConfigUnsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unset KEY",
		Short: "Unset a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if _, ok := configSetters[key]; !ok {
				return fmt.Errorf("%w: %s", constants.ErrUnknownConfigKey, key)
			}

			config := loadConfig()
			config.unset(key)

			err := saveConfigStruct(config)
			if err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			viper.Set(key, nil)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", key)

			return nil
		},
	}
}

func configKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for key := range configSetters {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}

func loadConfig() *Config {
	config := &Config{
		BaseURL:       viper.GetString("base_url"),
		APIKey:        viper.GetString("api_key"),
		Output:        viper.GetString("output"),
		Timeout:       viper.GetString("timeout"),
		RefreshSkew:   viper.GetString("refresh_skew"),
		TokenStore:    viper.GetString("token_store"),
		TokenPath:     viper.GetString("token_path"),
		RedisAddr:     viper.GetString("redis_addr"),
		RedisPassword: viper.GetString("redis_password"),
		NATSURL:       viper.GetString("nats_url"),
		TokenURL:      viper.GetString("token_url"),
		GrantType:     viper.GetString("grant_type"),
		ClientID:      viper.GetString("client_id"),
		ClientSecret:  viper.GetString("client_secret"),
	}

	if viper.Get("retry_limit") != nil {
		limit := viper.GetInt("retry_limit")
		config.RetryLimit = &limit
	}

	if config.Output == "" {
		config.Output = constants.FormatTable
	}

	return config
}

func (c *Config) unset(key string) {
	fields := map[string]*string{
		"base_url":       &c.BaseURL,
		"api_key":        &c.APIKey,
		"timeout":        &c.Timeout,
		"refresh_skew":   &c.RefreshSkew,
		"token_store":    &c.TokenStore,
		"token_path":     &c.TokenPath,
		"redis_addr":     &c.RedisAddr,
		"redis_password": &c.RedisPassword,
		"nats_url":       &c.NATSURL,
		"token_url":      &c.TokenURL,
		"grant_type":     &c.GrantType,
		"client_id":      &c.ClientID,
		"client_secret":  &c.ClientSecret,
	}

	switch key {
	case "retry_limit":
		c.RetryLimit = nil
	case "output":
		c.Output = constants.FormatTable
	default:
		if field, ok := fields[key]; ok {
			*field = ""
		}
	}
}

// masked returns a copy safe to print.
func (c *Config) masked() *Config {
	out := *c

	for _, secret := range []*string{&out.APIKey, &out.ClientSecret, &out.RedisPassword} {
		if *secret != "" {
			*secret = constants.MaskedSecret
		}
	}

	return &out
}

func (c *Config) rows() [][2]string {
	retryLimit := constants.NotAvailable
	if c.RetryLimit != nil {
		retryLimit = strconv.Itoa(*c.RetryLimit)
	}

	return [][2]string{
		{"Base URL", orNA(c.BaseURL)},
		{"API Key", orNA(c.APIKey)},
		{"Output", c.Output},
		{"Timeout", orNA(c.Timeout)},
		{"Retry Limit", retryLimit},
		{"Refresh Skew", orNA(c.RefreshSkew)},
		{"Token Store", orNA(c.TokenStore)},
		{"Token Path", orNA(c.TokenPath)},
		{"Token URL", orNA(c.TokenURL)},
		{"Grant Type", orNA(c.GrantType)},
		{"Client ID", orNA(c.ClientID)},
		{"Client Secret", orNA(c.ClientSecret)},
	}
}

func orNA(value string) string {
	if value == "" {
		return constants.NotAvailable
	}

	return value
}

// configFilePath returns the file config is persisted to.
func configFilePath() (string, error) {
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		return configFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDirName, "config.yml"), nil
}

func saveConfigStruct(config *Config) error {
	configFile, err := configFilePath()
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(configFile), constants.ConfigDirPerm)
	if err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	err = os.WriteFile(configFile, data, constants.ConfigFilePerm)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// defaultTokenPath is used by the file store when token_path is unset.
func defaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(home, ConfigDirName, "tokens.yml"), nil
}
