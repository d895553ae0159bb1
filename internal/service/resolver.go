package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/model"
)

// ProfileReader is the one store call the resolver needs.
type ProfileReader interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// SessionResolver picks the first screen for a session.
//
// The onboarded flag exists twice: in the token metadata and on the profile
// row. The token copy is trusted when it says true. Otherwise the profile is
// read, and if that read fails the token copy decides.
type SessionResolver struct {
	profiles ProfileReader
	logger   *slog.Logger
}

func NewSessionResolver(profiles ProfileReader, logger *slog.Logger) *SessionResolver {
	return &SessionResolver{profiles: profiles, logger: logger}
}

// Resolve never fails; every path ends in a route.
func (r *SessionResolver) Resolve(ctx context.Context, session *model.Session) model.Route {
	if session == nil {
		return model.RouteLogin
	}

	embedded := session.User.Metadata.Onboarded
	if embedded != nil && *embedded {
		return model.RouteHome
	}

	user, err := r.profiles.GetUserByID(ctx, session.User.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return model.RouteOnboarding
		}
		r.logger.Warn("profile read failed, routing on token metadata",
			slog.String("userID", session.User.ID),
			slog.String("error", err.Error()),
		)
		if embedded != nil && !*embedded {
			return model.RouteOnboarding
		}
		return model.RouteMain
	}

	if user.Onboarded {
		return model.RouteMain
	}
	return model.RouteOnboarding
}

// ResolveEvent routes an auth-state transition.
func (r *SessionResolver) ResolveEvent(ctx context.Context, ev authstate.Event) model.Route {
	if ev.Type == authstate.SignedOut {
		return model.RouteLogin
	}
	return r.Resolve(ctx, ev.Session)
}
