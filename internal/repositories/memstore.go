package repositories

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"messaging-service/internal/models"
)

type pairKey struct{ user1, user2 int64 }

type memberKey struct{ conversationID, userID int64 }

type deliveryKey struct {
	jobID       string
	recipientID int64
}

// MemoryStore keeps every repository in process memory. All operations run
// under one lock, so appends and create-if-absent are as atomic as their
// Postgres counterparts. It backs tests and runs when no database is configured.
type MemoryStore struct {
	mu sync.RWMutex

	nextConversationID int64
	nextMessageID      int64

	conversations map[int64]*models.Conversation
	pairs         map[pairKey]int64
	members       map[memberKey]*models.Member
	messages      map[int64][]*models.Message
	messageByID   map[int64]*models.Message

	profiles map[int64]models.Profile
	blocks   map[pairKey]time.Time

	jobs       map[string]*models.BroadcastJob
	deliveries map[deliveryKey]*models.BroadcastDelivery

	faults map[string][]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[int64]*models.Conversation),
		pairs:         make(map[pairKey]int64),
		members:       make(map[memberKey]*models.Member),
		messages:      make(map[int64][]*models.Message),
		messageByID:   make(map[int64]*models.Message),
		profiles:      make(map[int64]models.Profile),
		blocks:        make(map[pairKey]time.Time),
		jobs:          make(map[string]*models.BroadcastJob),
		deliveries:    make(map[deliveryKey]*models.BroadcastDelivery),
		faults:        make(map[string][]error),
	}
}

// InjectFault makes the next call of the named operation fail with err.
// Faults queue up when injected repeatedly.
func (s *MemoryStore) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

func (s *MemoryStore) fault(op string) error {
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// PutProfile inserts or replaces a profile.
func (s *MemoryStore) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// ConversationCount returns the number of stored conversations.
func (s *MemoryStore) ConversationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// --- ConversationRepository ---

func (s *MemoryStore) FindDirect(ctx context.Context, user1ID, user2ID int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("FindDirect"); err != nil {
		return models.Conversation{}, err
	}
	id, ok := s.pairs[pairKey{user1ID, user2ID}]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return *s.conversations[id], nil
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, kind models.ConversationKind, user1ID, user2ID int64) (models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateIfAbsent"); err != nil {
		return models.Conversation{}, false, err
	}
	if id, ok := s.pairs[pairKey{user1ID, user2ID}]; ok {
		return *s.conversations[id], false, nil
	}
	s.nextConversationID++
	conv := &models.Conversation{
		ID:        s.nextConversationID,
		Kind:      kind,
		User1ID:   user1ID,
		User2ID:   user2ID,
		CreatedAt: time.Now(),
	}
	s.conversations[conv.ID] = conv
	s.pairs[pairKey{user1ID, user2ID}] = conv.ID
	for _, userID := range []int64{user1ID, user2ID} {
		s.members[memberKey{conv.ID, userID}] = &models.Member{ConversationID: conv.ID, UserID: userID}
	}
	return *conv, true, nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID int64) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetConversation"); err != nil {
		return models.Conversation{}, err
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return *conv, nil
}

func (s *MemoryStore) GetMember(ctx context.Context, conversationID, userID int64) (models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.members[memberKey{conversationID, userID}]
	if !ok {
		return models.Member{}, ErrMemberNotFound
	}
	return *member, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID int64, filter models.ListFilter) ([]models.MembershipRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ListForUser"); err != nil {
		return nil, err
	}
	var rows []models.MembershipRow
	for key, member := range s.members {
		if key.userID != userID || member.DeletedAt != nil {
			continue
		}
		if (filter == models.ListArchived) != (member.ArchivedAt != nil) {
			continue
		}
		rows = append(rows, models.MembershipRow{
			Conversation: *s.conversations[key.conversationID],
			PinnedAt:     member.PinnedAt,
			ArchivedAt:   member.ArchivedAt,
			LastReadSeq:  member.LastReadSeq,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return rows, nil
}

func (s *MemoryStore) SetPinned(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return s.updateMember(conversationID, userID, func(m *models.Member) { m.PinnedAt = at })
}

func (s *MemoryStore) SetArchived(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return s.updateMember(conversationID, userID, func(m *models.Member) { m.ArchivedAt = at })
}

func (s *MemoryStore) SetDeleted(ctx context.Context, conversationID, userID int64, at *time.Time) error {
	return s.updateMember(conversationID, userID, func(m *models.Member) { m.DeletedAt = at })
}

func (s *MemoryStore) AdvanceReadMarker(ctx context.Context, conversationID, userID, uptoSeq int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[memberKey{conversationID, userID}]
	if !ok {
		return 0, ErrMemberNotFound
	}
	target := uptoSeq
	if last := s.conversations[conversationID].LastSeq; target > last {
		target = last
	}
	if target > member.LastReadSeq {
		member.LastReadSeq = target
	}
	return member.LastReadSeq, nil
}

func (s *MemoryStore) updateMember(conversationID, userID int64, apply func(*models.Member)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, ok := s.members[memberKey{conversationID, userID}]
	if !ok {
		return ErrMemberNotFound
	}
	apply(member)
	return nil
}

// --- MessageRepository ---

func (s *MemoryStore) Append(ctx context.Context, params models.AppendParams) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("Append"); err != nil {
		return models.Message{}, err
	}
	conv, ok := s.conversations[params.ConversationID]
	if !ok {
		return models.Message{}, ErrConversationNotFound
	}
	if params.EnforceReplyGate {
		if last := s.latestLocked(conv.ID); last != nil && last.SenderID == params.SenderID {
			return models.Message{}, ErrReplyGateClosed
		}
	}

	now := time.Now()
	s.nextMessageID++
	msg := &models.Message{
		ID:             s.nextMessageID,
		ConversationID: conv.ID,
		SenderID:       params.SenderID,
		Seq:            conv.LastSeq + 1,
		Content:        params.Content,
		Attachments:    append([]string{}, params.Attachments...),
		CreatedAt:      now,
	}
	s.messages[conv.ID] = append(s.messages[conv.ID], msg)
	s.messageByID[msg.ID] = msg
	conv.LastSeq = msg.Seq
	conv.LastMessageAt = &now
	for _, userID := range []int64{conv.User1ID, conv.User2ID} {
		if member, ok := s.members[memberKey{conv.ID, userID}]; ok {
			member.DeletedAt = nil
		}
	}
	return *msg, nil
}

func (s *MemoryStore) latestLocked(conversationID int64) *models.Message {
	msgs := s.messages[conversationID]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].DeletedAt == nil {
			return msgs[i]
		}
	}
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messageByID[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	return *msg, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID, beforeSeq int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[conversationID]
	var result []models.Message
	for i := len(msgs) - 1; i >= 0 && len(result) < limit; i-- {
		m := msgs[i]
		if m.DeletedAt != nil || (beforeSeq > 0 && m.Seq >= beforeSeq) {
			continue
		}
		result = append(result, *m)
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, messageID, senderID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messageByID[messageID]
	if !ok || msg.SenderID != senderID || msg.DeletedAt != nil {
		return ErrMessageNotFound
	}
	msg.DeletedAt = &at
	return nil
}

func (s *MemoryStore) LatestMessages(ctx context.Context, conversationIDs []int64) (map[int64]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("LatestMessages"); err != nil {
		return nil, err
	}
	result := make(map[int64]models.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		if last := s.latestLocked(id); last != nil {
			result[id] = *last
		}
	}
	return result, nil
}

func (s *MemoryStore) UnreadCounts(ctx context.Context, userID int64, conversationIDs []int64) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]int, len(conversationIDs))
	for _, id := range conversationIDs {
		member, ok := s.members[memberKey{id, userID}]
		if !ok {
			continue
		}
		for _, m := range s.messages[id] {
			if m.SenderID != userID && m.DeletedAt == nil && m.Seq > member.LastReadSeq {
				result[id]++
			}
		}
	}
	return result, nil
}

// --- ProfileRepository ---

func (s *MemoryStore) GetProfile(ctx context.Context, userID int64) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetProfile"); err != nil {
		return models.Profile{}, err
	}
	p, ok := s.profiles[userID]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetProfiles(ctx context.Context, userIDs []int64) (map[int64]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetProfiles"); err != nil {
		return nil, err
	}
	result := make(map[int64]models.Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *MemoryStore) FindRecipients(ctx context.Context, query RecipientQuery) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for id, p := range s.profiles {
		if p.DeletedAt != nil || p.ProfileType == models.ProfileAdmin {
			continue
		}
		if query.PublicOnly && !p.IsPublic {
			continue
		}
		if len(query.ProfileTypes) > 0 && !containsType(query.ProfileTypes, p.ProfileType) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func containsType(types []models.ProfileType, t models.ProfileType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// --- BlockRepository ---

func (s *MemoryStore) IsBlockedEither(ctx context.Context, userA, userB int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IsBlockedEither"); err != nil {
		return false, err
	}
	_, ab := s.blocks[pairKey{userA, userB}]
	_, ba := s.blocks[pairKey{userB, userA}]
	return ab || ba, nil
}

func (s *MemoryStore) BlockedAmong(ctx context.Context, userID int64, peerIDs []int64) (map[int64]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]bool, len(peerIDs))
	for _, peer := range peerIDs {
		_, out := s.blocks[pairKey{userID, peer}]
		_, in := s.blocks[pairKey{peer, userID}]
		if out || in {
			result[peer] = true
		}
	}
	return result, nil
}

func (s *MemoryStore) Block(ctx context.Context, blockerID, blockedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[pairKey{blockerID, blockedID}]; !ok {
		s.blocks[pairKey{blockerID, blockedID}] = time.Now()
	}
	return nil
}

func (s *MemoryStore) Unblock(ctx context.Context, blockerID, blockedID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, pairKey{blockerID, blockedID})
	return nil
}

// --- BroadcastRepository ---

func (s *MemoryStore) CreateJob(ctx context.Context, job models.BroadcastJob) (models.BroadcastJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateJob"); err != nil {
		return models.BroadcastJob{}, false, err
	}
	if stored, ok := s.jobs[job.ID]; ok {
		stored.Status = models.JobRunning
		stored.FinishedAt = nil
		return *stored, false, nil
	}
	stored := job
	stored.Filter = append(json.RawMessage{}, job.Filter...)
	stored.Status = models.JobRunning
	stored.StartedAt = time.Now()
	s.jobs[job.ID] = &stored
	return stored, true, nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (models.BroadcastJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.BroadcastJob{}, ErrJobNotFound
	}
	return *job, nil
}

func (s *MemoryStore) FinishJob(ctx context.Context, result models.BroadcastResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[result.JobID]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = result.Status
	job.SentCount, job.ErrorCount = 0, 0
	for key, d := range s.deliveries {
		if key.jobID != result.JobID {
			continue
		}
		switch d.Status {
		case models.DeliverySent:
			job.SentCount++
		case models.DeliveryFailed:
			job.ErrorCount++
		}
	}
	job.SkippedCount = result.SkippedCount
	job.FinishedAt = &at
	return nil
}

func (s *MemoryStore) ClaimDelivery(ctx context.Context, jobID string, recipientID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("ClaimDelivery"); err != nil {
		return false, err
	}
	key := deliveryKey{jobID, recipientID}
	if d, ok := s.deliveries[key]; ok {
		if d.Status != models.DeliveryFailed {
			return false, nil
		}
		d.Status = models.DeliveryPending
		d.Reason = ""
		d.UpdatedAt = time.Now()
		return true, nil
	}
	s.deliveries[key] = &models.BroadcastDelivery{
		JobID:       jobID,
		RecipientID: recipientID,
		Status:      models.DeliveryPending,
		UpdatedAt:   time.Now(),
	}
	return true, nil
}

func (s *MemoryStore) CompleteDelivery(ctx context.Context, jobID string, recipientID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryKey{jobID, recipientID}]; ok {
		d.Status = models.DeliverySent
		d.MessageID = &messageID
		d.Reason = ""
		d.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) FailDelivery(ctx context.Context, jobID string, recipientID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[deliveryKey{jobID, recipientID}]; ok {
		d.Status = models.DeliveryFailed
		d.Reason = reason
		d.UpdatedAt = time.Now()
	}
	return nil
}

var (
	_ ConversationRepository = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ ProfileRepository      = (*MemoryStore)(nil)
	_ BlockRepository        = (*MemoryStore)(nil)
	_ BroadcastRepository    = (*MemoryStore)(nil)
)
