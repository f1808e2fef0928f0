// internal/chat/service.go
// Conversation lifecycle and membership

package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/skillsphere/messaging-service/internal/platform"
)

// UserDirectory is the slice of the external User service this package needs
type UserDirectory interface {
	GetByID(ctx context.Context, userID int64) (*platform.User, error)
}

// SkillDirectory is the slice of the external Skill service this package needs
type SkillDirectory interface {
	GetByID(ctx context.Context, skillID int64) (*platform.Skill, error)
}

// Notifier publishes fire-and-forget notification events
type Notifier interface {
	Notify(ctx context.Context, userID int64, title, body string, metadata map[string]string)
}

// Service implements conversation and message business rules
type Service struct {
	repo       Repository
	users      UserDirectory
	skills     SkillDirectory
	notifier   Notifier
	editWindow time.Duration

	broadcaster Broadcaster
	presence    OnlineChecker
}

// NewService creates the chat service
func NewService(repo Repository, users UserDirectory, skills SkillDirectory, notifier Notifier, editWindow time.Duration) *Service {
	return &Service{
		repo:       repo,
		users:      users,
		skills:     skills,
		notifier:   notifier,
		editWindow: editWindow,
	}
}

// SetBroadcaster sets the transport fan-out after initialization to avoid
// a circular dependency with the hub
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetPresence sets the online checker used to suppress notifications for
// connected users
func (s *Service) SetPresence(p OnlineChecker) {
	s.presence = p
}

// CreateOrGetDirect returns the single DIRECT conversation between two
// users, creating it on first contact. Safe under concurrent calls for the
// same pair: the unique direct_key index resolves the race and the loser
// re-fetches the winner's row.
func (s *Service) CreateOrGetDirect(ctx context.Context, requesterID, otherID int64) (*Conversation, error) {
	if requesterID == otherID {
		return nil, ErrSelfConversation
	}

	key := DirectKey(requesterID, otherID)

	conv, err := s.repo.GetDirectConversation(ctx, key)
	if err == nil {
		return s.repairDirectMembership(ctx, conv, requesterID, otherID)
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	requesterName := s.displayName(ctx, requesterID)
	otherName := s.displayName(ctx, otherID)

	conv = &Conversation{
		Name:      fmt.Sprintf("%s, %s", requesterName, otherName),
		Type:      ConversationDirect,
		Status:    StatusActive,
		DirectKey: &key,
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		if s.repo.IsDuplicate(err) {
			// Lost the creation race, the other call's row wins
			existing, gerr := s.repo.GetDirectConversation(ctx, key)
			if gerr != nil {
				return nil, gerr
			}
			return s.repairDirectMembership(ctx, existing, requesterID, otherID)
		}
		return nil, err
	}

	for userID, name := range map[int64]string{requesterID: requesterName, otherID: otherName} {
		p := &Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			DisplayName:    name,
			Role:           RoleMember,
		}
		if err := s.repo.AddParticipant(ctx, p); err != nil {
			return nil, err
		}
	}

	conversationsCreated.WithLabelValues(string(ConversationDirect)).Inc()
	return s.withParticipants(ctx, conv)
}

// repairDirectMembership makes sure both sides of a direct conversation hold
// an active participant row. A crash between the conversation insert and the
// participant inserts can leave the keyed row with missing members, and an
// archived side is reactivated on rejoin; ensureMember covers both cases.
func (s *Service) repairDirectMembership(ctx context.Context, conv *Conversation, requesterID, otherID int64) (*Conversation, error) {
	for _, userID := range []int64{requesterID, otherID} {
		if err := s.ensureMember(ctx, conv.ID, userID); err != nil {
			return nil, err
		}
	}
	return s.withParticipants(ctx, conv)
}

// CreateOrGetSkillGroup returns the single SKILL_GROUP conversation for a
// skill, creating it on first join. The requester is made an active
// participant either way.
func (s *Service) CreateOrGetSkillGroup(ctx context.Context, skillRef, requesterID int64) (*Conversation, error) {
	conv, err := s.repo.GetSkillGroupConversation(ctx, skillRef)
	if err == nil {
		if err := s.ensureMember(ctx, conv.ID, requesterID); err != nil {
			return nil, err
		}
		return s.withParticipants(ctx, conv)
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	// Skill metadata only enriches the conversation; lookup failures fall
	// back to a generic name
	name := fmt.Sprintf("Skill Group %d", skillRef)
	var skill *platform.Skill
	if s.skills != nil {
		skill, err = s.skills.GetByID(ctx, skillRef)
		if err != nil {
			log.Printf("Warning: skill lookup for %d failed: %v", skillRef, err)
			skill = nil
		} else if skill.Name != "" {
			name = skill.Name
		}
	}

	conv = &Conversation{
		Name:     name,
		Type:     ConversationSkillGroup,
		Status:   StatusActive,
		SkillRef: &skillRef,
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		if s.repo.IsDuplicate(err) {
			existing, gerr := s.repo.GetSkillGroupConversation(ctx, skillRef)
			if gerr != nil {
				return nil, gerr
			}
			if jerr := s.ensureMember(ctx, existing.ID, requesterID); jerr != nil {
				return nil, jerr
			}
			return s.withParticipants(ctx, existing)
		}
		return nil, err
	}

	creator := &Participant{
		ConversationID: conv.ID,
		UserID:         requesterID,
		DisplayName:    s.displayName(ctx, requesterID),
		Role:           RoleAdmin,
	}
	if err := s.repo.AddParticipant(ctx, creator); err != nil {
		return nil, err
	}

	// Best-effort: add the skill's owner as a member
	if skill != nil && skill.OwnerUserID > 0 && skill.OwnerUserID != requesterID {
		owner := &Participant{
			ConversationID: conv.ID,
			UserID:         skill.OwnerUserID,
			DisplayName:    s.displayName(ctx, skill.OwnerUserID),
			Role:           RoleMember,
		}
		if err := s.repo.AddParticipant(ctx, owner); err != nil {
			log.Printf("Warning: could not add skill owner %d to conversation %d: %v", skill.OwnerUserID, conv.ID, err)
		}
	}

	conversationsCreated.WithLabelValues(string(ConversationSkillGroup)).Inc()
	return s.withParticipants(ctx, conv)
}

// CreateGroup creates a GROUP conversation. The creator becomes ADMIN;
// participant ids that cannot be resolved are skipped with a warning.
func (s *Service) CreateGroup(ctx context.Context, creatorID int64, req *CreateGroupRequest) (*Conversation, error) {
	conv := &Conversation{
		Name:   req.Name,
		Type:   ConversationGroup,
		Status: StatusActive,
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	creator := &Participant{
		ConversationID: conv.ID,
		UserID:         creatorID,
		DisplayName:    s.displayName(ctx, creatorID),
		Role:           RoleAdmin,
	}
	if err := s.repo.AddParticipant(ctx, creator); err != nil {
		return nil, err
	}

	seen := map[int64]bool{creatorID: true}
	for _, userID := range req.ParticipantIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			log.Printf("Warning: skipping unknown participant %d for conversation %d: %v", userID, conv.ID, err)
			continue
		}

		p := &Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			DisplayName:    user.DisplayName(),
			Role:           RoleMember,
		}
		if err := s.repo.AddParticipant(ctx, p); err != nil {
			log.Printf("Warning: could not add participant %d to conversation %d: %v", userID, conv.ID, err)
		}
	}

	conversationsCreated.WithLabelValues(string(ConversationGroup)).Inc()
	return s.withParticipants(ctx, conv)
}

// ListForUser returns the user's ACTIVE conversations, most recent
// activity first
func (s *Service) ListForUser(ctx context.Context, userID int64, page, size int) (*Page[*Conversation], error) {
	size = clampPageSize(size)
	if page < 0 {
		page = 0
	}

	convs, err := s.repo.ListUserConversations(ctx, userID, size+1, page*size)
	if err != nil {
		return nil, err
	}

	more := len(convs) > size
	if more {
		convs = convs[:size]
	}

	for _, conv := range convs {
		count, err := s.repo.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		conv.UnreadCount = count
	}

	return &Page[*Conversation]{Items: convs, Page: page, Size: size, More: more}, nil
}

// Get returns one conversation. SKILL_GROUP conversations are open lobbies:
// any authenticated caller may read them.
func (s *Service) Get(ctx context.Context, convID, userID int64) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}

	if err := s.checkReadAccess(ctx, conv, userID); err != nil {
		return nil, err
	}

	conv.UnreadCount, err = s.repo.UnreadCount(ctx, convID, userID)
	if err != nil {
		return nil, err
	}

	return s.withParticipants(ctx, conv)
}

// Archive deactivates the caller's own participant row. The conversation
// itself is never deleted.
func (s *Service) Archive(ctx context.Context, convID, userID int64) error {
	p, err := s.repo.GetParticipant(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return nil
	}
	return s.repo.DeactivateParticipant(ctx, convID, userID)
}

// Leave removes the caller from a group conversation and posts a system
// message so remaining members see the departure
func (s *Service) Leave(ctx context.Context, convID, userID int64) error {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}

	p, err := s.repo.GetParticipant(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return nil
	}

	if err := s.repo.DeactivateParticipant(ctx, convID, userID); err != nil {
		return err
	}

	if conv.Type != ConversationDirect {
		s.postSystemMessage(ctx, conv, fmt.Sprintf("%s left the conversation", p.DisplayName))
	}

	return nil
}

// SetNotifications toggles the caller's notification flag for a conversation
func (s *Service) SetNotifications(ctx context.Context, convID, userID int64, enabled bool) error {
	if _, err := s.repo.GetParticipant(ctx, convID, userID); err != nil {
		return err
	}
	return s.repo.SetNotificationsEnabled(ctx, convID, userID, enabled)
}

// Search matches conversation names case-insensitively within the caller's
// active conversations
func (s *Service) Search(ctx context.Context, userID int64, query string) ([]*Conversation, error) {
	return s.repo.SearchUserConversations(ctx, userID, query)
}

// CanAccess reports whether a user may read a conversation. Used by the
// transport layer for subscription checks.
func (s *Service) CanAccess(ctx context.Context, convID, userID int64) error {
	conv, err := s.repo.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	return s.checkReadAccess(ctx, conv, userID)
}

// canSend applies the send-permission rules: the conversation must be
// ACTIVE; SKILL_GROUP lobbies accept any authenticated sender; everything
// else needs an active, non-READONLY participant row.
func canSend(conv *Conversation, p *Participant) bool {
	if conv.Status != StatusActive {
		return false
	}
	if conv.Type == ConversationSkillGroup {
		return true
	}
	return p != nil && p.IsActive && p.Role != RoleReadOnly
}

func (s *Service) checkReadAccess(ctx context.Context, conv *Conversation, userID int64) error {
	if conv.Type == ConversationSkillGroup {
		return nil
	}

	p, err := s.repo.GetParticipant(ctx, conv.ID, userID)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return ErrNotParticipant
	}
	return nil
}

// ensureMember guarantees an active participant row, adding or reactivating
// as needed
func (s *Service) ensureMember(ctx context.Context, convID, userID int64) error {
	p, err := s.repo.GetParticipant(ctx, convID, userID)
	if errors.Is(err, ErrNotParticipant) {
		member := &Participant{
			ConversationID: convID,
			UserID:         userID,
			DisplayName:    s.displayName(ctx, userID),
			Role:           RoleMember,
		}
		return s.repo.AddParticipant(ctx, member)
	}
	if err != nil {
		return err
	}
	if !p.IsActive {
		return s.repo.ReactivateParticipant(ctx, convID, userID)
	}
	return nil
}

// displayName fetches a user's display name, falling back to a stable
// placeholder so enrichment failures never abort the primary operation
func (s *Service) displayName(ctx context.Context, userID int64) string {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		log.Printf("Warning: user lookup for %d failed, using fallback name: %v", userID, err)
		return fmt.Sprintf("User %d", userID)
	}
	return user.DisplayName()
}

func (s *Service) withParticipants(ctx context.Context, conv *Conversation) (*Conversation, error) {
	participants, err := s.repo.GetActiveParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return 20
	case size > 100:
		return 100
	default:
		return size
	}
}
