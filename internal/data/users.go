package data

import "github.com/leehonan/meterman-server/internal/store"

// EnsureUser writes a user row for username if none exists yet,
// matching the operator-account bootstrap backend/config performs on
// first run. A pre-existing row is left untouched so a password
// rotated via the store directly survives restarts.
func (m *Manager) EnsureUser(username, passwordHash string) error {
	if _, err := m.store.GetUser(username); err == nil {
		return nil
	}
	return m.store.WriteUser(username, passwordHash, "operator")
}

// UserPasswordHash returns the bcrypt hash stored for username.
func (m *Manager) UserPasswordHash(username string) (string, error) {
	u, err := m.store.GetUser(username)
	if err != nil {
		return "", err
	}
	return u.Password, nil
}
