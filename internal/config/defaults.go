package config

import (
	"runtime"
)

// PlatformDefaults returns platform-specific default values
type PlatformDefaults struct {
	LogFile      string
	ConfigPath   string
	StorePath    string
	TextfilePath string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	return platformDefaults(runtime.GOOS)
}

func platformDefaults(goos string) PlatformDefaults {
	switch goos {
	case "windows":
		return PlatformDefaults{
			LogFile:      `C:\ProgramData\HostScan\hostscan.log`,
			ConfigPath:   `C:\ProgramData\HostScan\config.yaml`,
			StorePath:    `C:\ProgramData\HostScan\hostscan.db`,
			TextfilePath: `C:\Program Files\windows_exporter\textfile_inputs\hostscan.prom`,
		}
	case "darwin":
		return PlatformDefaults{
			LogFile:      "/usr/local/var/log/hostscan/hostscan.log",
			ConfigPath:   "/usr/local/etc/hostscan/config.yaml",
			StorePath:    "/usr/local/var/hostscan/hostscan.db",
			TextfilePath: "/usr/local/var/node_exporter/textfile/hostscan.prom",
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:      "/var/log/hostscan/hostscan.log",
			ConfigPath:   "/usr/local/etc/hostscan/config.yaml",
			StorePath:    "/var/db/hostscan/hostscan.db",
			TextfilePath: "/var/tmp/node_exporter/hostscan.prom",
		}
	default:
		// Linux and anything unknown
		return PlatformDefaults{
			LogFile:      "/var/log/hostscan/hostscan.log",
			ConfigPath:   "/etc/hostscan/config.yaml",
			StorePath:    "/var/lib/hostscan/hostscan.db",
			TextfilePath: "/var/lib/node_exporter/textfile_collector/hostscan.prom",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults updates viper defaults with platform-specific values
// This should be called from setDefaults() in config.go
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		defaults := GetPlatformDefaults()

		viperInstance.SetDefault("logging.file", defaults.LogFile)
		viperInstance.SetDefault("store.path", defaults.StorePath)
		viperInstance.SetDefault("metrics.textfile_path", defaults.TextfilePath)
	}
}
