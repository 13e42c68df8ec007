// Package keys manages service account key material on disk and in IAM.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidKey is returned for files that are not usable service account keys.
var ErrInvalidKey = errors.New("invalid service account key file")

// ServiceAccountKey is a key file in the local store.
type ServiceAccountKey struct {
	Path         string
	ClientEmail  string
	PrivateKeyID string
	ProjectID    string
	Raw          []byte
}

type keyFile struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
}

// RemoteName is the IAM resource name of the key.
func (k *ServiceAccountKey) RemoteName() string {
	return fmt.Sprintf("projects/%s/serviceAccounts/%s/keys/%s", k.ProjectID, k.ClientEmail, k.PrivateKeyID)
}

// ParseKey decodes key JSON, requiring every field needed to mint and delete it.
func ParseKey(path string, data []byte) (*ServiceAccountKey, error) {
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, path, err)
	}
	var missing []string
	for field, value := range map[string]string{
		"client_email":   f.ClientEmail,
		"private_key_id": f.PrivateKeyID,
		"project_id":     f.ProjectID,
		"private_key":    f.PrivateKey,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s: missing %s", ErrInvalidKey, path, strings.Join(missing, ", "))
	}
	return &ServiceAccountKey{
		Path:         path,
		ClientEmail:  f.ClientEmail,
		PrivateKeyID: f.PrivateKeyID,
		ProjectID:    f.ProjectID,
		Raw:          data,
	}, nil
}

// FileName derives a filesystem-safe key file name from a resource path.
func FileName(resourceName string) string {
	return strings.NewReplacer("/", "_", ":", "_").Replace(resourceName) + ".json"
}

// Store is a directory of key files.
type Store struct {
	Dir string
}

func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Paths returns the key files of the store in name order. A missing directory has no keys.
func (s *Store) Paths() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading key directory %s: %w", s.Dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir, e.Name()))
	}
	return paths, nil
}

func (s *Store) Load(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return ParseKey(path, data)
}

// Write stores key material under name, owner-readable only.
func (s *Store) Write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return "", fmt.Errorf("creating key directory: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing key file: %w", err)
	}
	return path, nil
}

func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
