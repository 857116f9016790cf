package config

import (
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// appDataDir returns the default data directory of the application, following
// the conventions of the running OS.
func appDataDir(appName string) string {
	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, appNameUpper)
		}
		return filepath.Join(homeDir, appNameUpper)
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appNameUpper)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appNameLower)
		}
		return filepath.Join(homeDir, "."+appNameLower)
	}
}

// maskUrl hides the password of a connection url, if any.
func maskUrl(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil || u.User == nil {
		return rawUrl
	}
	if _, ok := u.User.Password(); !ok {
		return rawUrl
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
