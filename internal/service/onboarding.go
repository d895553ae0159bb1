package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository"
)

// RedirectDelay is how long the client waits on the success screen before
// moving to home after onboarding completes.
const RedirectDelay = 1500 * time.Millisecond

const uncategorized = "Other"

// Messages shown after a join request. Title and body, as the client
// displays them.
var (
	msgAlreadyPending  = JoinMessage{"Request Already Sent", "You already have a pending request to join this community. Please wait for approval."}
	msgAlreadyApproved = JoinMessage{"Already a Member", "You are already a member of this community!"}
	msgRequestSent     = JoinMessage{"Request Sent!", "Your request to join the community has been sent. You will be notified once approved."}
)

// JoinMessage is a title/body pair for the client's alert.
type JoinMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// JoinOutcome is the result of asking to join a community. The client moves
// on to technology selection in every case.
type JoinOutcome struct {
	AlreadyRequested bool               `json:"already_requested"`
	Status           model.JoinStatus   `json:"status"`
	Request          *model.JoinRequest `json:"request"`
	CommunityID      int64              `json:"community_id"`
	Next             model.Route        `json:"next"`
	Message          JoinMessage        `json:"message"`
}

// OnboardingResult ends the onboarding flow. Session is a refreshed token
// carrying onboarded=true; it is nil when the metadata mirror failed.
type OnboardingResult struct {
	Next            model.Route    `json:"next"`
	Session         *model.Session `json:"session,omitempty"`
	RedirectDelayMS int64          `json:"redirect_delay_ms"`
}

// OnboardingService drives community and technology selection.
type OnboardingService struct {
	catalog    repository.CatalogRepository
	membership repository.MembershipRepository
	users      repository.UserRepository
	identity   *IdentityService
	logger     *slog.Logger
}

func NewOnboardingService(
	catalog repository.CatalogRepository,
	membership repository.MembershipRepository,
	users repository.UserRepository,
	identity *IdentityService,
	logger *slog.Logger,
) *OnboardingService {
	return &OnboardingService{
		catalog:    catalog,
		membership: membership,
		users:      users,
		identity:   identity,
		logger:     logger,
	}
}

// ListCommunities returns active communities, largest first.
func (s *OnboardingService) ListCommunities(ctx context.Context) ([]model.Community, error) {
	communities, err := s.catalog.ListActiveCommunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/onboarding: listing communities: %w", err)
	}
	return communities, nil
}

// RequestToJoin files a pending join request unless the user already has a
// pending or approved one for the community.
//
// The lookup and the insert are separate statements. When the insert loses
// to a concurrent request the unique index rejects it and the winner is
// reported instead.
func (s *OnboardingService) RequestToJoin(ctx context.Context, userID string, communityID int64) (*JoinOutcome, error) {
	community, err := s.catalog.GetCommunity(ctx, communityID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/onboarding: loading community %d: %w", communityID, err)
	}
	if !community.IsActive {
		return nil, apperror.NotFound("community", strconv.FormatInt(communityID, 10))
	}

	existing, err := s.membership.FindOpenJoinRequest(ctx, userID, communityID)
	if err != nil {
		return nil, fmt.Errorf("service/onboarding: checking join request: %w", err)
	}
	if existing != nil {
		return alreadyRequested(existing), nil
	}

	req := &model.JoinRequest{
		CommunityID: communityID,
		UserID:      userID,
		Status:      model.JoinPending,
	}
	if err := s.membership.CreateJoinRequest(ctx, req); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/onboarding: creating join request: %w", err)
		}
		existing, findErr := s.membership.FindOpenJoinRequest(ctx, userID, communityID)
		if findErr != nil || existing == nil {
			return nil, fmt.Errorf("service/onboarding: re-reading conflicting join request: %w", err)
		}
		return alreadyRequested(existing), nil
	}

	s.logger.Info("join request created",
		slog.String("userID", userID),
		slog.Int64("communityID", communityID),
		slog.Int64("requestID", req.ID),
	)

	return &JoinOutcome{
		Status:      req.Status,
		Request:     req,
		CommunityID: communityID,
		Next:        model.RouteTechnologies,
		Message:     msgRequestSent,
	}, nil
}

func alreadyRequested(req *model.JoinRequest) *JoinOutcome {
	msg := msgAlreadyPending
	if req.Status == model.JoinApproved {
		msg = msgAlreadyApproved
	}
	return &JoinOutcome{
		AlreadyRequested: true,
		Status:           req.Status,
		Request:          req,
		CommunityID:      req.CommunityID,
		Next:             model.RouteTechnologies,
		Message:          msg,
	}
}

// Skip ends onboarding without a community or technologies. The user lands
// on home even if the profile update fails.
func (s *OnboardingService) Skip(ctx context.Context, userID string) *OnboardingResult {
	if err := s.users.MarkOnboarded(ctx, userID); err != nil {
		s.logger.Error("failed to mark onboarded on skip",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return &OnboardingResult{Next: model.RouteHome}
	}

	return &OnboardingResult{
		Next:    model.RouteHome,
		Session: s.mirrorOnboarded(ctx, userID),
	}
}

// ListTechnologies returns the active technologies of one community grouped
// by category. Groups are sorted by name; technologies without a category go
// under "Other".
func (s *OnboardingService) ListTechnologies(ctx context.Context, communityID int64) ([]model.TechnologyGroup, error) {
	techs, err := s.catalog.ListActiveTechnologies(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("service/onboarding: listing technologies for %d: %w", communityID, err)
	}
	return GroupTechnologies(techs), nil
}

// GroupTechnologies buckets techs by category, keeping their order inside
// each bucket.
func GroupTechnologies(techs []model.Technology) []model.TechnologyGroup {
	index := map[string]int{}
	groups := []model.TechnologyGroup{}
	for _, t := range techs {
		category := strings.TrimSpace(t.Category)
		if category == "" {
			category = uncategorized
		}
		i, ok := index[category]
		if !ok {
			i = len(groups)
			index[category] = i
			groups = append(groups, model.TechnologyGroup{Category: category})
		}
		groups[i].Technologies = append(groups[i].Technologies, t)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].Category < groups[b].Category
	})
	return groups
}

// Complete stores the selected technologies and marks the user onboarded.
//
// The interests are written in one batch. If any row fails nothing is
// written and the onboarded flag is not touched, so the user can fix the
// selection and retry.
func (s *OnboardingService) Complete(ctx context.Context, userID string, techIDs []int64) (*OnboardingResult, error) {
	selection := NewSelection(techIDs...)
	if selection.Len() == 0 {
		return nil, apperror.ValidationFailed("technology_ids", "Please select at least one technology")
	}

	if err := s.membership.AddTechnologyInterests(ctx, userID, selection.IDs()); err != nil {
		s.logger.Warn("saving technology interests failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, classifyCompletionError(err)
	}

	if err := s.users.MarkOnboarded(ctx, userID); err != nil {
		return nil, fmt.Errorf("service/onboarding: marking %s onboarded: %w", userID, err)
	}

	s.logger.Info("onboarding completed",
		slog.String("userID", userID),
		slog.Int("technologies", selection.Len()),
	)

	return &OnboardingResult{
		Next:            model.RouteHome,
		Session:         s.mirrorOnboarded(ctx, userID),
		RedirectDelayMS: RedirectDelay.Milliseconds(),
	}, nil
}

// classifyCompletionError maps a batch failure to what the user should do
// next. Matching is on the message because drivers disagree on codes.
func classifyCompletionError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return err
	case errors.Is(err, apperror.ErrConflict) || strings.Contains(msg, "duplicate key"):
		return &apperror.AppError{
			Err:     apperror.ErrConflict,
			Message: "You have already selected one or more of these technologies. Please review your selection.",
			Field:   "technology_ids",
		}
	case errors.Is(err, apperror.ErrUnauthorized) || strings.Contains(msg, "auth"):
		return apperror.Unauthorized("Your session has expired. Please sign in again.")
	default:
		return &apperror.AppError{
			Err:     err,
			Message: "There was an error completing your setup. Please try again.",
		}
	}
}

// mirrorOnboarded copies onboarded=true into the account metadata and
// returns a session that carries it. Failures are logged; the profile row
// stays authoritative.
func (s *OnboardingService) mirrorOnboarded(ctx context.Context, userID string) *model.Session {
	if s.identity == nil {
		return nil
	}
	account, err := s.identity.UpdateMetadata(ctx, userID, MetadataPatch{Onboarded: model.Bool(true)})
	if err != nil {
		s.logger.Warn("failed to mirror onboarded flag",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	session, err := s.identity.IssueSession(account, false, 0)
	if err != nil {
		s.logger.Warn("failed to refresh session",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return session
}

// Selection is the set of technologies picked on the technology screen.
// Insertion order is kept so the stored rows follow the user's clicks.
type Selection struct {
	ids []int64
}

// NewSelection builds a selection from ids, ignoring repeats.
func NewSelection(ids ...int64) *Selection {
	s := &Selection{}
	for _, id := range ids {
		if !s.Contains(id) {
			s.ids = append(s.ids, id)
		}
	}
	return s
}

// Toggle adds id if absent and removes it if present. It reports whether id
// is selected afterwards.
func (s *Selection) Toggle(id int64) bool {
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return false
		}
	}
	s.ids = append(s.ids, id)
	return true
}

func (s *Selection) Contains(id int64) bool {
	for _, existing := range s.ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (s *Selection) Len() int { return len(s.ids) }

// IDs returns a copy of the selected ids.
func (s *Selection) IDs() []int64 {
	out := make([]int64, len(s.ids))
	copy(out, s.ids)
	return out
}
