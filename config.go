package main

import (
	"fmt"

	"github.com/jinzhu/configor"
)

type AppConfig struct {
	AWS      AWSConfig
	Keeper   KeeperConfig
	Upload   UploadConfig
	Notify   NotifyConfig
	Schedule ScheduleConfig
}

type AWSConfig struct {
	Region            string `default:"us-east-1" env:"LTD_MASON_AWS_REGION"`
	Profile           string `env:"LTD_MASON_AWS_PROFILE"`
	AccessKeyID       string `env:"LTD_MASON_AWS_ID"`
	SecretAccessKey   string `env:"LTD_MASON_AWS_SECRET"`
	Endpoint          string `env:"LTD_MASON_S3_ENDPOINT"`
	MaxAttempts       int    `default:"5"`
	MaxBackoffSeconds int    `default:"20"`
}

type KeeperConfig struct {
	URL      string `env:"LTD_KEEPER_URL"`
	User     string `env:"LTD_KEEPER_USER"`
	Password string `env:"LTD_KEEPER_PASSWORD"`
	RetryMax int    `default:"3"`
}

// UploadConfig fields are phrased so that their zero value is the usual
// setting; configor cannot tell an explicit false from an unset bool.
type UploadConfig struct {
	SkipDirectoryMarkers bool
	ACL                  string
	CacheControlMaxAge   int `default:"31536000"`
	NoCacheControl       bool
	MarkerExemptions     []string
	Concurrency          int `default:"1"`
	SkipUnchanged        bool
}

type NotifyConfig struct {
	Topic   string `env:"DOCSYNC_SNS_TOPIC"`
	Region  string
	Profile string
}

type ScheduleConfig struct {
	// Interval repeats a sync every Interval minutes.
	Interval int
	Cron     string
}

// LoadConfig reads the optional YAML files and applies defaults and
// environment overrides.
func LoadConfig(files ...string) (AppConfig, error) {
	var appConfig AppConfig
	if err := configor.New(&configor.Config{}).Load(&appConfig, files...); err != nil {
		return appConfig, fmt.Errorf("load config: %w", err)
	}
	if appConfig.Notify.Region == "" {
		appConfig.Notify.Region = appConfig.AWS.Region
	}
	return appConfig, nil
}

func (c AppConfig) SyncOptions() SyncOptions {
	opts := DefaultSyncOptions()
	opts.WriteDirectoryMarkers = !c.Upload.SkipDirectoryMarkers
	opts.ACL = c.Upload.ACL
	opts.CacheControlMaxAge = c.Upload.CacheControlMaxAge
	opts.NoCacheControl = c.Upload.NoCacheControl
	opts.MarkerExemptions = c.Upload.MarkerExemptions
	opts.SkipUnchanged = c.Upload.SkipUnchanged
	if c.Upload.Concurrency > 0 {
		opts.Concurrency = c.Upload.Concurrency
	}
	return opts
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// ConfigStringArray renders the configuration for debug logs with secrets
// masked.
func (c AppConfig) ConfigStringArray() []string {
	configStrArr := make([]string, 0)
	configStrArr = append(configStrArr, fmt.Sprintf("  - AWSRegion: %s", c.AWS.Region))
	configStrArr = append(configStrArr, fmt.Sprintf("  - AWSProfile: %s", c.AWS.Profile))
	configStrArr = append(configStrArr, fmt.Sprintf("  - AWSAccessKeyID: %s", redact(c.AWS.AccessKeyID)))
	configStrArr = append(configStrArr, fmt.Sprintf("  - AWSSecretAccessKey: %s", redact(c.AWS.SecretAccessKey)))
	if c.AWS.Endpoint != "" {
		configStrArr = append(configStrArr, fmt.Sprintf("  - S3Endpoint: %s", c.AWS.Endpoint))
	}
	configStrArr = append(configStrArr, fmt.Sprintf("  - KeeperURL: %s", c.Keeper.URL))
	configStrArr = append(configStrArr, fmt.Sprintf("  - KeeperUser: %s", c.Keeper.User))
	configStrArr = append(configStrArr, fmt.Sprintf("  - KeeperPassword: %s", redact(c.Keeper.Password)))
	configStrArr = append(configStrArr, fmt.Sprintf("  - Concurrent Uploads: %d", c.Upload.Concurrency))

	if c.Notify.Topic != "" {
		configStrArr = append(configStrArr, fmt.Sprintf("  - SNSTopic: %s", c.Notify.Topic))
	}

	configStrArr = append(configStrArr, "Upload:")
	configStrArr = append(configStrArr, fmt.Sprintf("%+v", c.Upload))

	return configStrArr
}
