package authz

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hostelops/gatehouse/model"
)

// RoleDirectory resolves a user ID to the user's role. The requesting user's
// own role arrives in the access token; the directory is consulted when an
// administrator manages somebody else's access.
type RoleDirectory interface {
	RoleOf(ctx context.Context, userID string) (string, error)
}

type directoryFile struct {
	Users map[string]string `yaml:"users"`
}

// StaticDirectory is a RoleDirectory backed by a YAML file mapping user IDs
// to role names.
type StaticDirectory struct {
	path  string
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticDirectory creates a directory that loads user/role pairs from path.
func NewStaticDirectory(path string) (*StaticDirectory, error) {
	d := &StaticDirectory{path: path}
	if err := d.Sync(); err != nil {
		return nil, err
	}
	return d, nil
}

// RoleOf returns the role recorded for userID, or NOT_FOUND.
func (d *StaticDirectory) RoleOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	role, ok := d.users[userID]
	if !ok {
		return "", model.NewNotFoundError(fmt.Sprintf("user %q not found", userID))
	}
	return role, nil
}

// Sync reloads the directory file from disk.
func (d *StaticDirectory) Sync() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("authz: reading directory file %s: %w", d.path, err)
	}

	var f directoryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("authz: parsing directory file %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.users = f.Users
	d.mu.Unlock()

	return nil
}
