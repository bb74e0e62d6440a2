package memory

import (
	"crypto/subtle"
	"fmt"
	"log"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/xid"
)

// Login sets the active user when the credentials match. Accounts imported
// with a plain-text password are upgraded to a bcrypt hash on success.
func (s *Store) Login(username, password string) (domain.User, bool) {
	var (
		user domain.User
		ok   bool
	)
	s.update(func() []store.Collection {
		idx := slices.IndexFunc(s.users, func(u domain.User) bool { return u.Username == strings.TrimSpace(username) })
		if idx < 0 || password == "" {
			return nil
		}
		stored := s.users[idx].Password
		touched := []store.Collection{store.CurrentUser}
		if isPasswordHash(stored) {
			if bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) != nil {
				return nil
			}
		} else {
			if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
				return nil
			}
			if hash, err := hashPassword(password); err == nil {
				s.users[idx].Password = hash
				touched = append(touched, store.Users)
			} else {
				log.Printf("[memory-store] WARN: failed to upgrade password user=%s: %v", s.users[idx].ID, err)
			}
		}
		current := cloneUser(s.users[idx])
		s.currentUser = &current
		user, ok = cloneUser(current), true
		return touched
	})
	return user, ok
}

func (s *Store) Logout() {
	s.update(func() []store.Collection {
		if s.currentUser == nil {
			return nil
		}
		s.currentUser = nil
		return []store.Collection{store.CurrentUser}
	})
}

func (s *Store) CurrentUser() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return domain.User{}, false
	}
	return cloneUser(*s.currentUser), true
}

// HasPermission checks the active user. Admins pass every check; with no
// active user every check fails.
func (s *Store) HasPermission(permissionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentUser == nil {
		return false
	}
	return s.currentUser.Can(permissionID)
}

func (s *Store) Users() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.users, cloneUser)
}

func (s *Store) User(id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.userIndexLocked(id)
	if idx < 0 {
		return domain.User{}, store.ErrNotFound
	}
	return cloneUser(s.users[idx]), nil
}

func (s *Store) AddUser(user domain.User) (domain.User, error) {
	var err error
	s.update(func() []store.Collection {
		user.Username = strings.TrimSpace(user.Username)
		if user.Username == "" || user.Password == "" {
			err = store.ErrInvalidInput
			return nil
		}
		if user.Role == "" {
			user.Role = domain.RoleCashier
		}
		if !domain.IsValidRole(user.Role) {
			err = fmt.Errorf("%w: role %q", store.ErrInvalidInput, user.Role)
			return nil
		}
		if slices.ContainsFunc(s.users, func(u domain.User) bool { return u.Username == user.Username }) {
			err = fmt.Errorf("%w: username %s already exists", store.ErrInvalidInput, user.Username)
			return nil
		}
		if user.ID == "" {
			user.ID = xid.New("usr")
		}
		if !isPasswordHash(user.Password) {
			hash, herr := hashPassword(user.Password)
			if herr != nil {
				err = herr
				return nil
			}
			user.Password = hash
		}
		user = cloneUser(user)
		s.users = append(s.users, user)
		return []store.Collection{store.Users}
	})
	return cloneUser(user), err
}

// UpdateUser edits an account. When the account is the active user the
// session sees the change immediately.
func (s *Store) UpdateUser(id string, patch domain.UserPatch) (domain.User, error) {
	var (
		updated domain.User
		err     error
	)
	s.update(func() []store.Collection {
		idx := s.userIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		u, perr := s.applyUserPatchLocked(s.users[idx], patch)
		if perr != nil {
			err = perr
			return nil
		}
		s.users[idx] = u
		updated = cloneUser(u)

		touched := []store.Collection{store.Users}
		if s.currentUser != nil && s.currentUser.ID == id {
			current := cloneUser(u)
			s.currentUser = &current
			touched = append(touched, store.CurrentUser)
		}
		return touched
	})
	return updated, err
}

func (s *Store) applyUserPatchLocked(u domain.User, patch domain.UserPatch) (domain.User, error) {
	if patch.Username != nil {
		username := strings.TrimSpace(*patch.Username)
		if username == "" {
			return u, store.ErrInvalidInput
		}
		if slices.ContainsFunc(s.users, func(x domain.User) bool { return x.Username == username && x.ID != u.ID }) {
			return u, fmt.Errorf("%w: username %s already exists", store.ErrInvalidInput, username)
		}
		u.Username = username
	}
	if patch.Password != nil && *patch.Password != "" {
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return u, err
		}
		u.Password = hash
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Role != nil {
		if !domain.IsValidRole(*patch.Role) {
			return u, fmt.Errorf("%w: role %q", store.ErrInvalidInput, *patch.Role)
		}
		u.Role = *patch.Role
	}
	if patch.Permissions != nil {
		u.Permissions = nonNil(slices.Clone(*patch.Permissions))
	}
	return u, nil
}

// DeleteUser removes an account. The last administrator cannot be removed.
func (s *Store) DeleteUser(id string) error {
	var err error
	s.update(func() []store.Collection {
		idx := s.userIndexLocked(id)
		if idx < 0 {
			err = store.ErrNotFound
			return nil
		}
		if s.users[idx].Role == domain.RoleAdmin {
			admins := 0
			for _, u := range s.users {
				if u.Role == domain.RoleAdmin {
					admins++
				}
			}
			if admins == 1 {
				err = fmt.Errorf("%w: cannot delete the last administrator", store.ErrInvalidInput)
				return nil
			}
		}
		s.users = slices.Delete(s.users, idx, idx+1)
		touched := []store.Collection{store.Users}
		if s.currentUser != nil && s.currentUser.ID == id {
			s.currentUser = nil
			touched = append(touched, store.CurrentUser)
		}
		return touched
	})
	return err
}

func (s *Store) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

func (s *Store) UpdateSettings(patch domain.SettingsPatch) (domain.Settings, error) {
	var (
		updated domain.Settings
		err     error
	)
	s.update(func() []store.Collection {
		next, perr := applySettingsPatch(s.settings, patch)
		if perr != nil {
			err = perr
			return nil
		}
		s.settings = next
		updated = next
		return []store.Collection{store.Settings}
	})
	return updated, err
}

func (s *Store) IsSystemSetup() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemSetup
}

// CompleteSystemSetup applies the first-run store identity and the
// administrator's credentials, then marks the installation as set up.
func (s *Store) CompleteSystemSetup(settings domain.SettingsPatch, admin domain.UserPatch) error {
	var err error
	s.update(func() []store.Collection {
		next, perr := applySettingsPatch(s.settings, settings)
		if perr != nil {
			err = perr
			return nil
		}
		admin.Role = nil
		admin.Permissions = nil
		users := slices.Clone(s.users)
		for i := range users {
			if users[i].Role != domain.RoleAdmin {
				continue
			}
			u, uerr := s.applyUserPatchLocked(users[i], admin)
			if uerr != nil {
				err = uerr
				return nil
			}
			users[i] = u
			break
		}
		s.settings = next
		s.users = users
		s.systemSetup = true
		return []store.Collection{store.Settings, store.Users, store.SystemSetup}
	})
	return err
}

func applySettingsPatch(cur domain.Settings, patch domain.SettingsPatch) (domain.Settings, error) {
	if patch.StoreName != nil {
		cur.StoreName = strings.TrimSpace(*patch.StoreName)
	}
	if patch.StoreAddress != nil {
		cur.StoreAddress = *patch.StoreAddress
	}
	if patch.StorePhone != nil {
		cur.StorePhone = *patch.StorePhone
	}
	if patch.Currency != nil {
		cur.Currency = *patch.Currency
	}
	if patch.TaxRate != nil {
		if patch.TaxRate.IsNegative() || patch.TaxRate.GreaterThan(hundred) {
			return cur, fmt.Errorf("%w: tax rate must be between 0 and 100", store.ErrInvalidInput)
		}
		cur.TaxRate = *patch.TaxRate
	}
	if patch.ReceiptHeader != nil {
		cur.ReceiptHeader = *patch.ReceiptHeader
	}
	if patch.ReceiptFooter != nil {
		cur.ReceiptFooter = *patch.ReceiptFooter
	}
	if patch.EnableStockAlerts != nil {
		cur.EnableStockAlerts = *patch.EnableStockAlerts
	}
	if patch.EnableDebtAlerts != nil {
		cur.EnableDebtAlerts = *patch.EnableDebtAlerts
	}
	if patch.HeaderLogoURL != nil {
		cur.HeaderLogoURL = *patch.HeaderLogoURL
	}
	if patch.HeaderLogoWidth != nil {
		cur.HeaderLogoWidth = *patch.HeaderLogoWidth
	}
	if patch.FooterLogoURL != nil {
		cur.FooterLogoURL = *patch.FooterLogoURL
	}
	if patch.FooterLogoWidth != nil {
		cur.FooterLogoWidth = *patch.FooterLogoWidth
	}
	if patch.ShowThankYouNote != nil {
		cur.ShowThankYouNote = *patch.ShowThankYouNote
	}
	return cur, nil
}

func (s *Store) userIndexLocked(id string) int {
	return slices.IndexFunc(s.users, func(u domain.User) bool { return u.ID == id })
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
