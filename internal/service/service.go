package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"elkhaled/pos/internal/docstore"
	"elkhaled/pos/internal/domain"
	"elkhaled/pos/internal/mirror"
	"elkhaled/pos/internal/store"
	"elkhaled/pos/internal/store/memory"
)

var (
	ErrUnauthenticated     = errors.New("authentication required")
	ErrForbidden           = errors.New("permission denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAlreadySetup        = errors.New("system is already set up")
	ErrStorageUnavailable  = errors.New("document storage is not configured")
	ErrPairingDisabled     = errors.New("pairing is disabled")
	ErrAssistantNotEnabled = errors.New("assistant is not configured")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the authorization boundary around the state store. Every
// mutator checks the acting user's permissions before touching state.
type Service struct {
	state *memory.Store

	docs      *docstore.Store
	mirror    *mirror.Mirror
	scheduler *mirror.Scheduler

	pairing     *Pairing
	interpreter Interpreter

	// checkoutHook runs between authorization and placing the order.
	checkoutHook func()
}

type Option func(*Service)

// WithStorage enables the document mirror operations.
func WithStorage(docs *docstore.Store, m *mirror.Mirror, scheduler *mirror.Scheduler) Option {
	return func(s *Service) {
		s.docs = docs
		s.mirror = m
		s.scheduler = scheduler
	}
}

func WithPairing(p *Pairing) Option {
	return func(s *Service) {
		s.pairing = p
	}
}

func WithInterpreter(i Interpreter) Option {
	return func(s *Service) {
		s.interpreter = i
	}
}

func New(state *memory.Store, opts ...Option) *Service {
	s := &Service{state: state}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State exposes the underlying store for wiring background collaborators.
func (s *Service) State() *memory.Store {
	return s.state
}

// actor resolves the acting user. A request context carries an explicit
// actor; otherwise the desktop session's logged-in user acts.
func (s *Service) actor(ctx context.Context) (domain.User, error) {
	if a, ok := ActorFromContext(ctx); ok {
		user, err := s.state.User(a.UserID)
		if err != nil {
			return domain.User{}, ErrUnauthenticated
		}
		return user, nil
	}
	if user, ok := s.state.CurrentUser(); ok {
		return user, nil
	}
	return domain.User{}, ErrUnauthenticated
}

// authorize passes when the acting user holds any of the permissions. With
// no permissions listed any authenticated user passes.
func (s *Service) authorize(ctx context.Context, permissions ...string) (domain.User, error) {
	user, err := s.actor(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if len(permissions) == 0 {
		return user, nil
	}
	for _, p := range permissions {
		if user.Can(p) {
			return user, nil
		}
	}
	return domain.User{}, fmt.Errorf("%w: requires %s", ErrForbidden, strings.Join(permissions, " or "))
}

func (s *Service) Login(_ context.Context, req domain.LoginRequest) (domain.User, error) {
	user, ok := s.state.Login(req.Username, req.Password)
	if !ok {
		return domain.User{}, ErrInvalidCredentials
	}
	s.state.RecordAudit(domain.AuditEntry{
		Actor:      user.Username,
		Action:     "login",
		EntityType: "user",
		EntityID:   user.ID,
	})
	return user, nil
}

func (s *Service) Logout(_ context.Context) {
	s.state.Logout()
}

func (s *Service) Me(ctx context.Context) (domain.User, error) {
	return s.actor(ctx)
}

func (s *Service) IsSystemSetup() bool {
	return s.state.IsSystemSetup()
}

// CompleteSetup runs once on a fresh installation. It needs no login.
func (s *Service) CompleteSetup(ctx context.Context, req domain.SetupRequest) error {
	if s.state.IsSystemSetup() {
		return ErrAlreadySetup
	}
	if err := s.state.CompleteSystemSetup(req.Settings, req.Admin); err != nil {
		return err
	}
	s.logAudit(ctx, "system_setup", "settings", "", "")
	return nil
}

func (s *Service) Settings(ctx context.Context) (domain.Settings, error) {
	if _, err := s.authorize(ctx); err != nil {
		return domain.Settings{}, err
	}
	return s.state.Settings(), nil
}

func (s *Service) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (domain.Settings, error) {
	if _, err := s.authorize(ctx, domain.PermSettingsManage); err != nil {
		return domain.Settings{}, err
	}
	updated, err := s.state.UpdateSettings(patch)
	if err != nil {
		return domain.Settings{}, err
	}
	s.logAudit(ctx, "settings_update", "settings", "", "")
	return updated, nil
}

func (s *Service) Notifications(ctx context.Context) ([]domain.Notification, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	return s.state.Notifications(), nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	if _, err := s.authorize(ctx); err != nil {
		return err
	}
	s.state.MarkNotificationRead(id)
	return nil
}

func (s *Service) ClearNotifications(ctx context.Context) error {
	if _, err := s.authorize(ctx); err != nil {
		return err
	}
	s.state.ClearNotifications()
	return nil
}

func (s *Service) ListAuditLog(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	if _, err := s.authorize(ctx, domain.PermStaffManage); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	entries := s.state.AuditLog()
	out := make([]domain.AuditEntry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := "system"
	if user, err := s.actor(ctx); err == nil {
		actor = user.Username
	}
	s.state.RecordAudit(domain.AuditEntry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	})
}

// IsNotFound reports whether err means the addressed entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
