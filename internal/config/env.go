package config

import "os"

// Environment variable names for overrides. Secrets are commonly supplied
// this way so they stay out of the config file.
const (
	EnvConfig       = "DROPBOX_BACKUP_CONFIG"
	EnvAppKey       = "DROPBOX_BACKUP_APP_KEY"
	EnvAppSecret    = "DROPBOX_BACKUP_APP_SECRET"
	EnvAccessToken  = "DROPBOX_BACKUP_ACCESS_TOKEN"
	EnvRefreshToken = "DROPBOX_BACKUP_REFRESH_TOKEN"
	EnvDestination  = "DROPBOX_BACKUP_DESTINATION"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string
	AppKey       string
	AppSecret    string
	AccessToken  string
	RefreshToken string
	Destination  string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		AppKey:       os.Getenv(EnvAppKey),
		AppSecret:    os.Getenv(EnvAppSecret),
		AccessToken:  os.Getenv(EnvAccessToken),
		RefreshToken: os.Getenv(EnvRefreshToken),
		Destination:  os.Getenv(EnvDestination),
	}
}
