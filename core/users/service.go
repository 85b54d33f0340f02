package users

import (
	"context"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/botcore/core/errs"
	"github.com/m3rciful/botcore/core/logger"
)

// Service ties the repository and the identity cache together. Cached
// entries are shared between handlers and must be treated as read-only.
type Service struct {
	repo       Repository
	cache      *Cache
	firstAdmin int64
}

// NewService builds the user service. firstAdmin is the Telegram ID that is
// promoted to admin on first registration; zero disables the promotion.
func NewService(repo Repository, cache *Cache, firstAdmin int64) *Service {
	return &Service{repo: repo, cache: cache, firstAdmin: firstAdmin}
}

// Cache exposes the identity cache for the periodic sweep.
func (s *Service) Cache() *Cache {
	return s.cache
}

// cachePut stores the user, or defers the store when the context carries a
// transaction's pending writes. Deferred puts land only after commit.
func (s *Service) cachePut(ctx context.Context, u *User) {
	if w := pendingCacheWrites(ctx); w != nil {
		w.add(func(ctx context.Context) { s.cache.Put(ctx, u) })
		return
	}
	s.cache.Put(ctx, u)
}

// GetByTelegramID resolves a user, serving from the cache when possible.
func (s *Service) GetByTelegramID(ctx context.Context, q sqlx.ExtContext, telegramID int64) (*User, error) {
	if u, ok := s.cache.Get(telegramID); ok {
		logger.Debug(ctx, "service.users", "users.lookup",
			slog.String("cache", "hit"),
			slog.Int64("user_id", telegramID),
		)
		return u, nil
	}
	u, err := s.repo.FindByTelegramID(ctx, q, telegramID)
	if err != nil {
		return nil, err
	}
	logger.Debug(ctx, "service.users", "users.lookup",
		slog.String("cache", "miss"),
		slog.Int64("user_id", telegramID),
	)
	s.cachePut(ctx, u)
	return u, nil
}

// Register makes sure a row exists for the incoming identity. Repeated calls
// are harmless: an already registered user gets a profile refresh when the
// Telegram-side fields changed. The configured first admin is created with
// the admin role; everyone else starts as a plain user.
func (s *Service) Register(ctx context.Context, q sqlx.ExtContext, incoming *User) (*User, bool, error) {
	existing, err := s.repo.FindByTelegramID(ctx, q, incoming.TelegramID)
	switch {
	case err == nil:
		if profileChanged(existing, incoming) {
			existing.Username = incoming.Username
			existing.FullName = incoming.FullName
			if err := s.repo.UpdateProfile(ctx, q, existing); err != nil {
				return nil, false, err
			}
			s.cachePut(ctx, existing)
		}
		return existing, false, nil
	case errs.IsKind(err, errs.KindUserNotRegistered):
		// fall through to insert
	default:
		return nil, false, err
	}

	incoming.Role = RoleUser
	if s.firstAdmin != 0 && incoming.TelegramID == s.firstAdmin {
		incoming.Role = RoleAdmin
	}
	if err := s.repo.Insert(ctx, q, incoming); err != nil {
		return nil, false, err
	}
	s.cachePut(ctx, incoming)
	logger.Info(ctx, "service.users", "users.register",
		slog.Int64("user_id", incoming.TelegramID),
		slog.String("role", string(incoming.Role)),
	)
	return incoming, true, nil
}

// ChangeRole sets the role of another user. Only admins may do this.
func (s *Service) ChangeRole(ctx context.Context, q sqlx.ExtContext, actor *User, targetID int64, role Role) error {
	if !actor.IsAdmin() {
		return errs.Unauthorized("role change requires admin")
	}
	if !role.Valid() {
		return errs.New(errs.KindInvalidPayload, "unknown role "+string(role))
	}
	if err := s.repo.UpdateRole(ctx, q, targetID, role); err != nil {
		return err
	}
	if cached, ok := s.cache.Get(targetID); ok {
		updated := *cached
		updated.Role = role
		s.cachePut(ctx, &updated)
	}
	logger.Info(ctx, "service.users", "users.role_change",
		slog.Int64("user_id", targetID),
		slog.String("role", string(role)),
	)
	return nil
}

func profileChanged(existing, incoming *User) bool {
	if existing.FullName != incoming.FullName {
		return true
	}
	switch {
	case existing.Username == nil && incoming.Username == nil:
		return false
	case existing.Username == nil || incoming.Username == nil:
		return true
	default:
		return *existing.Username != *incoming.Username
	}
}
