package user

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Key prefixes shared with the session middleware and the auth handlers.
const (
	UserSessionsPrefix = "user_sessions:"
	sessionPrefix      = "session:"
)

// TrackSession records sid under the user's session set so it can be destroyed later.
func (s *Service) TrackSession(ctx context.Context, userID uuid.UUID, sid string) error {
	if s.Rdb == nil {
		return nil
	}
	return s.Rdb.SAdd(ctx, UserSessionsPrefix+userID.String(), sid).Err()
}

// DestroySessions deletes every session of the user and the tracking set itself.
func (s *Service) DestroySessions(ctx context.Context, userID uuid.UUID) {
	if s.Rdb == nil {
		return
	}
	key := UserSessionsPrefix + userID.String()
	sids, err := s.Rdb.SMembers(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("listing user sessions failed")
	}
	keys := make([]string, 0, len(sids)+1)
	for _, sid := range sids {
		keys = append(keys, sessionPrefix+sid)
	}
	keys = append(keys, key)
	if err := s.Rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("destroying user sessions failed")
	}
}
