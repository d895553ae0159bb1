package service

import (
	"context"
	"testing"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/model"
)

// fakeProfiles counts reads so tests can assert the short-circuit path never
// touches the store.
type fakeProfiles struct {
	user  *model.User
	err   error
	reads int
}

func (f *fakeProfiles) GetUserByID(_ context.Context, userID string) (*model.User, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	if f.user == nil {
		return nil, apperror.NotFound("user", userID)
	}
	return f.user, nil
}

func sessionWith(onboarded *bool) *model.Session {
	return &model.Session{
		User: model.Account{
			ID:       "user-1",
			Metadata: model.AccountMetadata{Onboarded: onboarded},
		},
	}
}

// =========================================================================
// Resolve TESTS
// =========================================================================

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		session   *model.Session
		profiles  *fakeProfiles
		want      model.Route
		wantReads int
	}{
		{
			name:     "no session",
			session:  nil,
			profiles: &fakeProfiles{},
			want:     model.RouteLogin,
		},
		{
			name:     "embedded onboarded skips the store",
			session:  sessionWith(model.Bool(true)),
			profiles: &fakeProfiles{err: errStoreDown},
			want:     model.RouteHome,
		},
		{
			name:      "profile onboarded",
			session:   sessionWith(nil),
			profiles:  &fakeProfiles{user: &model.User{UserID: "user-1", Onboarded: true}},
			want:      model.RouteMain,
			wantReads: 1,
		},
		{
			name:      "profile not onboarded",
			session:   sessionWith(model.Bool(false)),
			profiles:  &fakeProfiles{user: &model.User{UserID: "user-1"}},
			want:      model.RouteOnboarding,
			wantReads: 1,
		},
		{
			name:      "profile missing",
			session:   sessionWith(nil),
			profiles:  &fakeProfiles{},
			want:      model.RouteOnboarding,
			wantReads: 1,
		},
		{
			name:      "read fails, flag absent",
			session:   sessionWith(nil),
			profiles:  &fakeProfiles{err: errStoreDown},
			want:      model.RouteMain,
			wantReads: 1,
		},
		{
			name:      "read fails, flag false",
			session:   sessionWith(model.Bool(false)),
			profiles:  &fakeProfiles{err: errStoreDown},
			want:      model.RouteOnboarding,
			wantReads: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSessionResolver(tt.profiles, newTestLogger())

			got := r.Resolve(context.Background(), tt.session)
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
			if tt.profiles.reads != tt.wantReads {
				t.Errorf("store reads = %d, want %d", tt.profiles.reads, tt.wantReads)
			}
		})
	}
}

func TestResolveEvent(t *testing.T) {
	profiles := &fakeProfiles{user: &model.User{UserID: "user-1", Onboarded: true}}
	r := NewSessionResolver(profiles, newTestLogger())
	ctx := context.Background()

	if got := r.ResolveEvent(ctx, authstate.NewSignedOut("user-1")); got != model.RouteLogin {
		t.Errorf("SIGNED_OUT routes to %q, want login", got)
	}
	if profiles.reads != 0 {
		t.Errorf("SIGNED_OUT read the store %d times", profiles.reads)
	}

	if got := r.ResolveEvent(ctx, authstate.NewSignedIn(*sessionWith(nil))); got != model.RouteMain {
		t.Errorf("SIGNED_IN routes to %q, want main", got)
	}
}
