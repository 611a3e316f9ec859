package account

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Directory is the YAML user directory: the signed-in account, the
// permissions it granted this application, and the users it can discover.
type Directory struct {
	// Current is the record ID of the signed-in user. Empty means no account.
	Current string `yaml:"current"`
	// Restricted marks an account that parental controls or device
	// management keep from using the application.
	Restricted bool `yaml:"restricted"`
	// Discoverability is granted when the user allowed others to look them
	// up and allowed this application to look others up.
	Discoverability bool   `yaml:"discoverability"`
	Users           []User `yaml:"users"`
}

// User is one directory entry.
type User struct {
	RecordID     string `yaml:"record_id"`
	GivenName    string `yaml:"given_name"`
	FamilyName   string `yaml:"family_name"`
	Email        string `yaml:"email"`
	Discoverable bool   `yaml:"discoverable"`
}

// LoadDirectory reads and validates the directory at path.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("account: read directory: %w", err)
	}
	var d Directory
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("account: parse directory %s: %w", path, err)
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("account: directory %s: %w", path, err)
	}
	return &d, nil
}

func (d *Directory) validate() error {
	seen := make(map[string]bool, len(d.Users))
	for i, u := range d.Users {
		if strings.TrimSpace(u.RecordID) == "" {
			return fmt.Errorf("user %d: empty record_id", i)
		}
		if seen[u.RecordID] {
			return fmt.Errorf("user %s: duplicate record_id", u.RecordID)
		}
		seen[u.RecordID] = true
	}
	if d.Current != "" && !seen[d.Current] {
		return fmt.Errorf("current user %s is not listed", d.Current)
	}
	return nil
}

func (d *Directory) lookup(id string) (User, bool) {
	for _, u := range d.Users {
		if u.RecordID == id {
			return u, true
		}
	}
	return User{}, false
}
