package messaging

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// DeletedUserName is shown for a peer whose profile no longer resolves.
const DeletedUserName = "Deleted user"

// ListFor builds the caller's conversation list. A peer that cannot be
// resolved is rendered as a placeholder instead of failing the list.
func (s *Service) ListFor(ctx context.Context, userID int64, filter models.ListFilter) ([]models.ConversationSummary, error) {
	ctx, span := tracer.Start(ctx, "messaging.ListFor")
	defer span.End()

	var rows []models.MembershipRow
	err := s.retry(ctx, func() error {
		var err error
		rows, err = s.conversations.ListForUser(ctx, userID, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("conversations", len(rows)))
	if len(rows) == 0 {
		return []models.ConversationSummary{}, nil
	}

	ids := make([]int64, 0, len(rows))
	peerIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
		peer, _ := row.Peer(userID)
		peerIDs = append(peerIDs, peer)
	}

	var (
		latest map[int64]models.Message
		unread map[int64]int
	)
	err = s.retry(ctx, func() error {
		var err error
		latest, err = s.messages.LatestMessages(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = s.retry(ctx, func() error {
		var err error
		unread, err = s.messages.UnreadCounts(ctx, userID, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	blocked, err := s.gateway.BlockedPeers(ctx, userID, peerIDs)
	if err != nil {
		s.log.Warn("blocked state lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		blocked = map[int64]bool{}
	}
	profiles, err := s.gateway.Profiles(ctx, peerIDs)
	if err != nil {
		s.log.Warn("peer profile lookup failed, using placeholders", zap.Int64("user_id", userID), zap.Error(err))
		profiles = map[int64]models.Profile{}
	}

	summaries := make([]models.ConversationSummary, 0, len(rows))
	for i, row := range rows {
		peerID := peerIDs[i]
		summary := models.ConversationSummary{
			ConversationID: row.ID,
			Kind:           row.Kind,
			Peer:           peerSnapshot(peerID, profiles),
			LastMessageAt:  row.LastMessageAt,
			UnreadCount:    unread[row.ID],
			Blocked:        blocked[peerID],
			PinnedAt:       row.PinnedAt,
			ArchivedAt:     row.ArchivedAt,
			CreatedAt:      row.CreatedAt,
		}
		if msg, ok := latest[row.ID]; ok {
			summary.LastMessage = &models.MessagePreview{
				MessageID: msg.ID,
				SenderID:  msg.SenderID,
				Seq:       msg.Seq,
				Content:   truncateRunes(msg.Content, s.opts.PreviewRunes),
				CreatedAt: msg.CreatedAt,
			}
		}
		summaries = append(summaries, summary)
	}
	sortSummaries(summaries)
	return summaries, nil
}

func peerSnapshot(peerID int64, profiles map[int64]models.Profile) models.PeerSnapshot {
	p, ok := profiles[peerID]
	if !ok || p.DeletedAt != nil {
		return models.PeerSnapshot{UserID: peerID, DisplayName: DeletedUserName, Placeholder: true}
	}
	return models.PeerSnapshot{UserID: peerID, DisplayName: p.DisplayName, ProfileType: p.ProfileType}
}

// sortSummaries orders pinned conversations first (most recently pinned on
// top), then by last activity, then by id, all descending.
func sortSummaries(summaries []models.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if (a.PinnedAt != nil) != (b.PinnedAt != nil) {
			return a.PinnedAt != nil
		}
		if a.PinnedAt != nil && !a.PinnedAt.Equal(*b.PinnedAt) {
			return a.PinnedAt.After(*b.PinnedAt)
		}
		at, bt := activity(a), activity(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ConversationID > b.ConversationID
	})
}

func activity(s models.ConversationSummary) time.Time {
	if s.LastMessageAt != nil {
		return *s.LastMessageAt
	}
	return s.CreatedAt
}

func truncateRunes(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	count := 0
	for i := range content {
		if count == limit {
			return content[:i] + "…"
		}
		count++
	}
	return content
}

// MarkRead moves the caller's read marker forward to uptoSeq, or to the
// latest message when uptoSeq <= 0. The marker never moves backwards and
// never passes the last sequence number. It returns the resulting marker.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID, uptoSeq int64) (int64, error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkRead")
	defer span.End()

	conv, _, err := s.participantConversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	if uptoSeq <= 0 {
		uptoSeq = conv.LastSeq
	}

	var marker int64
	err = s.retry(ctx, func() error {
		var err error
		marker, err = s.conversations.AdvanceReadMarker(ctx, conversationID, userID, uptoSeq)
		return err
	})
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return 0, ErrNotParticipant
	}
	return marker, err
}

// Pin pins the conversation for the caller.
func (s *Service) Pin(ctx context.Context, userID, conversationID int64) error {
	now := s.now()
	return s.updateMember(ctx, userID, conversationID, func(ctx context.Context) error {
		return s.conversations.SetPinned(ctx, conversationID, userID, &now)
	})
}

// Unpin clears the caller's pin.
func (s *Service) Unpin(ctx context.Context, userID, conversationID int64) error {
	return s.updateMember(ctx, userID, conversationID, func(ctx context.Context) error {
		return s.conversations.SetPinned(ctx, conversationID, userID, nil)
	})
}

// Archive moves the conversation to the caller's archived list.
func (s *Service) Archive(ctx context.Context, userID, conversationID int64) error {
	now := s.now()
	return s.updateMember(ctx, userID, conversationID, func(ctx context.Context) error {
		return s.conversations.SetArchived(ctx, conversationID, userID, &now)
	})
}

// Unarchive returns the conversation to the caller's active list.
func (s *Service) Unarchive(ctx context.Context, userID, conversationID int64) error {
	return s.updateMember(ctx, userID, conversationID, func(ctx context.Context) error {
		return s.conversations.SetArchived(ctx, conversationID, userID, nil)
	})
}

// Delete hides the conversation for the caller until a new message arrives.
// The other participant and the history are unaffected.
func (s *Service) Delete(ctx context.Context, userID, conversationID int64) error {
	now := s.now()
	return s.updateMember(ctx, userID, conversationID, func(ctx context.Context) error {
		return s.conversations.SetDeleted(ctx, conversationID, userID, &now)
	})
}

func (s *Service) updateMember(ctx context.Context, userID, conversationID int64, op func(context.Context) error) error {
	if _, _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	err := s.retry(ctx, func() error { return op(ctx) })
	if errors.Is(err, repositories.ErrMemberNotFound) {
		return ErrNotParticipant
	}
	return err
}
