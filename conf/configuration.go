package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/dlnabridge/dlnabridge/consts"
	"github.com/dlnabridge/dlnabridge/log"
)

type dlnaOptions struct {
	Port       int
	ServerName string
	// SeekResumeThreshold is the divergence between a Range-derived seek and the
	// upstream resume position above which the Range seek wins.
	SeekResumeThreshold time.Duration
}

type catalogOptions struct {
	ServerURL   string
	AccessToken string
	UserID      string
}

type configOptions struct {
	LogLevel   string
	LogFormat  string
	DbPath     string
	AppName    string
	AppVersion string
	DeviceName string
	DeviceID   string
	Dlna       dlnaOptions
	Catalog    catalogOptions

	ConfigFile string
}

// Server holds the process-wide configuration, populated once by Load.
var Server = &configOptions{}

func init() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logformat", "text")
	viper.SetDefault("dbpath", consts.DefaultDbPath)
	viper.SetDefault("appname", consts.AppName)
	viper.SetDefault("appversion", consts.Version)
	viper.SetDefault("devicename", consts.AppName)
	viper.SetDefault("deviceid", "")
	viper.SetDefault("dlna.port", consts.DefaultHTTPPort)
	viper.SetDefault("dlna.servername", consts.AppName)
	viper.SetDefault("dlna.seekresumethreshold", time.Minute)
	viper.SetDefault("catalog.serverurl", "")
	viper.SetDefault("catalog.accesstoken", "")
	viper.SetDefault("catalog.userid", "")
}

// InitConfig reads the optional config file. Called by cobra before Load.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dlnabridge")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/dlnabridge")
	}
	viper.SetEnvPrefix("DLNA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			log.Fatal("Could not read config file", "file", cfgFile, err)
		}
	}
}

// Load populates and validates conf.Server. Configuration errors are fatal.
func Load() {
	if err := viper.Unmarshal(Server); err != nil {
		log.Fatal("Error parsing configuration", err)
	}
	Server.ConfigFile = viper.ConfigFileUsed()

	log.SetLevel(Server.LogLevel)
	log.SetOutputFormat(Server.LogFormat)

	if err := validate(Server); err != nil {
		log.Fatal("Invalid configuration", err)
	}
}

func validate(c *configOptions) error {
	if c.Dlna.Port < 1 || c.Dlna.Port > 65535 {
		return fmt.Errorf("dlna.port must be in [1, 65535], got %d", c.Dlna.Port)
	}
	if c.Catalog.ServerURL == "" {
		return fmt.Errorf("catalog.serverurl is required")
	}
	u, err := url.Parse(c.Catalog.ServerURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("catalog.serverurl must be an absolute URL: %q", c.Catalog.ServerURL)
	}
	if c.Catalog.AccessToken == "" {
		return fmt.Errorf("catalog.accesstoken is required")
	}
	if _, err := uuid.Parse(c.Catalog.UserID); err != nil {
		return fmt.Errorf("catalog.userid must be a UUID: %w", err)
	}
	if c.Dlna.ServerName == "" {
		c.Dlna.ServerName = consts.AppName
	}
	return nil
}
