package shared

import (
	"fmt"
	"path/filepath"

	"github.com/adrg/xdg"
)

// AppName is the directory name used under the XDG base directories.
const AppName = "ytscrobble"

// DataFile returns the path of name inside the application's XDG data directory.
//
// Missing parent directories are created.
func DataFile(name string) (string, error) {
	path, err := xdg.DataFile(filepath.Join(AppName, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve data file %s: %w", name, err)
	}
	return path, nil
}

// UserAuthFile returns the default browser.json location for a user.
func UserAuthFile(userID string) (string, error) {
	return DataFile(filepath.Join("auth", userID, "browser.json"))
}
