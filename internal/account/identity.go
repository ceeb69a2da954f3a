package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/easyvpn/easyvpn-client/internal/fileutil"
)

// identityFileName is the state file holding the per-install device id.
const identityFileName = "device-id.json"

// identityRecord is the on-disk shape of the device identity.
type identityRecord struct {
	DeviceID string `json:"deviceId"`
}

// Identity resolves the stable per-install device identifier. The id is
// cached in memory after the first resolution and persisted under the config
// directory so it survives restarts.
type Identity struct {
	path string

	mu     sync.Mutex
	cached string
}

// NewIdentity creates an identity store rooted at the given config directory.
func NewIdentity(configDir string) *Identity {
	return &Identity{path: filepath.Join(configDir, identityFileName)}
}

// DeviceID returns the device identifier, generating and persisting a new
// one on first use. A persisted id is never regenerated.
func (i *Identity) DeviceID() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached, nil
	}

	data, err := os.ReadFile(i.path)
	if err == nil {
		var rec identityRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr == nil && rec.DeviceID != "" {
			i.cached = rec.DeviceID
			return i.cached, nil
		}
		// Unreadable or empty record: fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read device identity: %w", err)
	}

	id := uuid.New().String()
	if err := os.MkdirAll(filepath.Dir(i.path), 0700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := fileutil.AtomicWriteJSON(i.path, identityRecord{DeviceID: id}, 0600); err != nil {
		return "", fmt.Errorf("persist device identity: %w", err)
	}

	i.cached = id
	return id, nil
}

// Hostname returns the machine hostname used as the default device display
// name.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown device"
	}
	return name
}
