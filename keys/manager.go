package keys

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/iam/v1"
)

// ErrKeyQuotaExceeded means the account already holds the maximum number of keys.
var ErrKeyQuotaExceeded = errors.New("service account key quota exceeded, delete unused keys manually (max 10 per account)")

// RemoteKeys creates and deletes keys in IAM.
type RemoteKeys interface {
	CreateKey(ctx context.Context, serviceAccountName string) (*iam.ServiceAccountKey, error)
	DeleteKey(ctx context.Context, keyName string) error
}

// Validator checks that a key can still obtain a token.
type Validator interface {
	Validate(ctx context.Context, keyJSON []byte) error
}

// Manager provisions, reuses and cleans up service account keys.
type Manager struct {
	store     *Store
	remote    RemoteKeys
	validator Validator
	logger    *slog.Logger
}

func NewManager(store *Store, remote RemoteKeys, validator Validator, logger *slog.Logger) *Manager {
	return &Manager{store: store, remote: remote, validator: validator, logger: logger}
}

func (m *Manager) Store() *Store { return m.store }

// EnsureKey returns the path of a usable key for the account, creating one only
// when no valid local key exists.
func (m *Manager) EnsureKey(ctx context.Context, serviceAccountName string) (string, error) {
	email := path.Base(serviceAccountName)

	existing, err := m.reusableKey(ctx, email)
	if err != nil {
		return "", err
	}
	if existing != "" {
		m.logger.Info("using existing valid key", "service_account", email, "path", existing)
		return existing, nil
	}

	created, err := m.remote.CreateKey(ctx, serviceAccountName)
	if err != nil {
		if isKeyQuotaError(err) {
			m.logger.Warn("cannot create key, validate the account holds fewer than 10 keys", "service_account", email)
			return "", fmt.Errorf("%s: %w", email, ErrKeyQuotaExceeded)
		}
		return "", fmt.Errorf("creating key for %s: %w", email, err)
	}

	keyPath, err := m.persist(serviceAccountName, created)
	if err != nil {
		// Without a local file Reconcile cannot find this key, so drop it now.
		if delErr := m.remote.DeleteKey(ctx, created.Name); delErr != nil {
			m.logger.Warn("failed to delete remote key after local save failed", "key", created.Name, "error", delErr)
		} else {
			m.logger.Info("removed remote key after local save failed", "key", created.Name)
		}
		return "", err
	}
	m.logger.Info("key created", "service_account", email, "path", keyPath)
	return keyPath, nil
}

func (m *Manager) persist(serviceAccountName string, created *iam.ServiceAccountKey) (string, error) {
	data, err := base64.StdEncoding.DecodeString(created.PrivateKeyData)
	if err != nil {
		return "", fmt.Errorf("decoding key for %s: %w", path.Base(serviceAccountName), err)
	}
	if _, err := ParseKey(created.Name, data); err != nil {
		return "", err
	}
	return m.store.Write(FileName(serviceAccountName), data)
}

func (m *Manager) reusableKey(ctx context.Context, email string) (string, error) {
	paths, err := m.store.Paths()
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		key, err := m.store.Load(p)
		if err != nil {
			m.logger.Debug("skipping unreadable key file", "path", p, "error", err)
			continue
		}
		if key.ClientEmail != email {
			continue
		}
		if err := m.validator.Validate(ctx, key.Raw); err != nil {
			m.logger.Info("existing key is invalid, creating a new one", "service_account", email, "path", p, "error", err)
			if err := m.store.Remove(p); err != nil {
				m.logger.Warn("could not remove invalid key file", "path", p, "error", err)
			}
			continue
		}
		return p, nil
	}
	return "", nil
}

// DeleteRemoteAndLocal deletes the key in IAM, then its local file. A remote
// failure is logged and the local file is removed regardless.
func (m *Manager) DeleteRemoteAndLocal(ctx context.Context, key *ServiceAccountKey) error {
	name := key.RemoteName()
	if err := m.remote.DeleteKey(ctx, name); err != nil {
		m.logger.Warn("failed to delete remote key", "key", name, "error", err)
	} else {
		m.logger.Info("removed remote key", "key", name)
	}
	if err := m.store.Remove(key.Path); err != nil {
		return fmt.Errorf("removing local key %s: %w", key.Path, err)
	}
	m.logger.Info("removed local key", "path", key.Path)
	return nil
}

// ReconcileSummary counts the outcome of a cleanup pass.
type ReconcileSummary struct {
	Total    int
	Retained int
	Deleted  int
}

// Reconcile keeps every key in confirmed and deletes all others.
func (m *Manager) Reconcile(ctx context.Context, confirmed []string) (ReconcileSummary, error) {
	keep := make(map[string]bool, len(confirmed))
	for _, p := range confirmed {
		keep[filepath.Clean(p)] = true
	}

	paths, err := m.store.Paths()
	if err != nil {
		return ReconcileSummary{}, err
	}

	summary := ReconcileSummary{Total: len(paths)}
	for _, p := range paths {
		if keep[filepath.Clean(p)] {
			summary.Retained++
			m.logger.Info("keeping key with delegation", "path", p)
			continue
		}

		key, err := m.store.Load(p)
		if err != nil {
			m.logger.Warn("key file unreadable, removing local copy only", "path", p, "error", err)
			if err := m.store.Remove(p); err != nil {
				m.logger.Warn("failed to remove key", "path", p, "error", err)
				continue
			}
			summary.Deleted++
			continue
		}
		if err := m.DeleteRemoteAndLocal(ctx, key); err != nil {
			m.logger.Warn("failed to remove key", "path", p, "error", err)
			continue
		}
		summary.Deleted++
	}

	m.logger.Info("key cleanup summary", "total", summary.Total, "retained", summary.Retained, "deleted", summary.Deleted)
	return summary, nil
}

func isKeyQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusPreconditionFailed {
			return true
		}
		if strings.Contains(apiErr.Body, "FAILED_PRECONDITION") {
			return true
		}
	}
	return strings.Contains(err.Error(), "Precondition check failed")
}
