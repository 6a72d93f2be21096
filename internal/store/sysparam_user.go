package store

import (
	"errors"

	"gorm.io/gorm"
)

// SysParam is a single name/value configuration row, managed through
// gorm rather than raw SQL since it has no composite key (unlike the
// four relations in schema.go).
type SysParam struct {
	Name  string `gorm:"column:name;primaryKey"`
	Value string `gorm:"column:value;not null"`
}

func (SysParam) TableName() string { return "sys_param" }

// User is one HTTP API credential (backend/models.User's shape,
// adapted to username/permissions rather than email/role).
type User struct {
	Username    string `gorm:"column:username;primaryKey"`
	Password    string `gorm:"column:password;not null"`
	Permissions string `gorm:"column:permissions;not null"`
}

func (User) TableName() string { return "user" }

// WriteSysParam inserts a new sys_param row.
func (s *Store) WriteSysParam(name, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wrapStoreErr("write sys_param", s.gdb.Create(&SysParam{Name: name, Value: value}).Error)
}

// GetSysParam returns the value for name, or errNotFound.
func (s *Store) GetSysParam(name string) (string, error) {
	var p SysParam
	err := s.gdb.First(&p, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errNotFound
	}
	if err != nil {
		return "", wrapStoreErr("get sys_param", err)
	}
	return p.Value, nil
}

// UpdateSysParam overwrites the value for an existing sys_param row.
func (s *Store) UpdateSysParam(name, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res := s.gdb.Model(&SysParam{}).Where("name = ?", name).Update("value", value)
	if res.Error != nil {
		return wrapStoreErr("update sys_param", res.Error)
	}
	if res.RowsAffected == 0 {
		return errNotFound
	}
	return nil
}

// WriteUser inserts a new user row. Password is expected to already be
// hashed by the caller (internal/auth), never stored in cleartext.
func (s *Store) WriteUser(username, passwordHash, permissions string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wrapStoreErr("write user", s.gdb.Create(&User{Username: username, Password: passwordHash, Permissions: permissions}).Error)
}

// GetUser returns the user row for username, or errNotFound.
func (s *Store) GetUser(username string) (*User, error) {
	var u User
	err := s.gdb.First(&u, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, wrapStoreErr("get user", err)
	}
	return &u, nil
}

// UpdateUser selectively updates password and/or permissions for an
// existing user. A nil argument leaves that column unchanged.
func (s *Store) UpdateUser(username string, passwordHash, permissions *string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updates := map[string]any{}
	if passwordHash != nil {
		updates["password"] = *passwordHash
	}
	if permissions != nil {
		updates["permissions"] = *permissions
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.gdb.Model(&User{}).Where("username = ?", username).Updates(updates)
	if res.Error != nil {
		return wrapStoreErr("update user", res.Error)
	}
	if res.RowsAffected == 0 {
		return errNotFound
	}
	return nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(username string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res := s.gdb.Delete(&User{}, "username = ?", username)
	if res.Error != nil {
		return wrapStoreErr("delete user", res.Error)
	}
	if res.RowsAffected == 0 {
		return errNotFound
	}
	return nil
}
