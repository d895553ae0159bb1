package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository/sqlite"
	"github.com/knowex/knowex-api/internal/storage"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// testEnv wires the services against an in-memory sqlite store. Each test
// gets its own database.
type testEnv struct {
	db        *sqlite.DB
	bus       *authstate.MemoryBus
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	objects   *fakeObjectStore
	logger    *slog.Logger
	identity  *IdentityService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	logger := newTestLogger()
	bus := authstate.NewMemoryBus(logger)
	t.Cleanup(func() { bus.Close() })

	// bcrypt minimum cost
	passwords := auth.NewPasswordServiceForTest(4)

	return &testEnv{
		db:        db,
		bus:       bus,
		tokens:    tokens,
		passwords: passwords,
		objects:   newFakeObjectStore(),
		logger:    logger,
		identity:  NewIdentityService(db, tokens, passwords, bus, logger),
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (e *testEnv) signupService() *SignupService {
	return NewSignupService(e.identity, e.db, e.objects, e.logger)
}

func (e *testEnv) onboardingService() *OnboardingService {
	return NewOnboardingService(e.db, e.db, e.db, e.identity, e.logger)
}

func (e *testEnv) credentialService() *CredentialService {
	return NewCredentialService(e.identity, e.db, e.db, e.passwords, e.objects, e.logger)
}

func (e *testEnv) provisioner() *Provisioner {
	return NewProvisioner(e.identity, e.db, e.db, e.passwords, e.logger)
}

// seedCommunity inserts an active community and its technologies.
func (e *testEnv) seedCommunity(t *testing.T, name string, techs ...model.Technology) (int64, []int64) {
	t.Helper()
	ctx := context.Background()

	c := &model.Community{Name: name, MemberCount: 5, IsActive: true}
	if err := e.db.UpsertCommunity(ctx, c); err != nil {
		t.Fatalf("UpsertCommunity: %v", err)
	}

	var ids []int64
	for _, tech := range techs {
		tech.CommunityID = c.ID
		tech.IsActive = true
		if err := e.db.UpsertTechnology(ctx, &tech); err != nil {
			t.Fatalf("UpsertTechnology(%s): %v", tech.Name, err)
		}
		ids = append(ids, tech.ID)
	}
	return c.ID, ids
}

// fakeObjectStore keeps uploads in memory. Set uploadErr to simulate an
// outage.
type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, bucket storage.Bucket, key string, r io.Reader) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[string(bucket)+"/"+key] = buf.Bytes()
	return nil
}

func (f *fakeObjectStore) PublicURL(bucket storage.Bucket, key string) string {
	return fmt.Sprintf("https://cdn.test/%s/%s", bucket, key)
}

func (f *fakeObjectStore) get(bucket storage.Bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[string(bucket)+"/"+key]
	return b, ok
}

var errStoreDown = errors.New("connection refused")

// nextEvent waits for one event or fails the test.
func nextEvent(t *testing.T, events <-chan authstate.Event) authstate.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for auth-state event")
	}
	return authstate.Event{}
}

func subjectFor(a model.Account) auth.Subject {
	return auth.Subject{Account: a}
}
