package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/broadcast"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) ResolveDirect(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) ListFor(ctx context.Context, userID int64, filter models.ListFilter) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID, filter)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationServiceMock) ListMessages(ctx context.Context, userID, conversationID, beforeSeq int64, limit int) (messaging.MessagePage, error) {
	args := m.Called(ctx, userID, conversationID, beforeSeq, limit)
	var page messaging.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(messaging.MessagePage)
	}
	return page, args.Error(1)
}

func (m *ConversationServiceMock) Send(ctx context.Context, senderID, conversationID int64, content string, attachments []string) (models.Message, error) {
	args := m.Called(ctx, senderID, conversationID, content, attachments)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationServiceMock) DeleteMessage(ctx context.Context, userID, conversationID, messageID int64) error {
	args := m.Called(ctx, userID, conversationID, messageID)
	return args.Error(0)
}

func (m *ConversationServiceMock) MarkRead(ctx context.Context, userID, conversationID, uptoSeq int64) (int64, error) {
	args := m.Called(ctx, userID, conversationID, uptoSeq)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ConversationServiceMock) Pin(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *ConversationServiceMock) Unpin(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *ConversationServiceMock) Archive(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *ConversationServiceMock) Unarchive(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *ConversationServiceMock) Delete(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

type TypingServiceMock struct {
	mock.Mock
}

func (m *TypingServiceMock) SetTyping(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *TypingServiceMock) StopTyping(ctx context.Context, userID, conversationID int64) error {
	return m.Called(ctx, userID, conversationID).Error(0)
}

func (m *TypingServiceMock) TypingFor(ctx context.Context, userID, conversationID int64) ([]int64, error) {
	args := m.Called(ctx, userID, conversationID)
	var users []int64
	if val := args.Get(0); val != nil {
		users = val.([]int64)
	}
	return users, args.Error(1)
}

type BlockServiceMock struct {
	mock.Mock
}

func (m *BlockServiceMock) Block(ctx context.Context, blockerID, blockedID int64) error {
	return m.Called(ctx, blockerID, blockedID).Error(0)
}

func (m *BlockServiceMock) Unblock(ctx context.Context, blockerID, blockedID int64) error {
	return m.Called(ctx, blockerID, blockedID).Error(0)
}

type BlockAuditorMock struct {
	mock.Mock
}

func (m *BlockAuditorMock) BlockChanged(ctx context.Context, blockerID, blockedID int64, blocked bool) {
	m.Called(ctx, blockerID, blockedID, blocked)
}

type BroadcastRunnerMock struct {
	mock.Mock
}

func (m *BroadcastRunnerMock) Run(ctx context.Context, req broadcast.Request) (models.BroadcastResult, error) {
	args := m.Called(ctx, req)
	var result models.BroadcastResult
	if val := args.Get(0); val != nil {
		result = val.(models.BroadcastResult)
	}
	return result, args.Error(1)
}

func (m *BroadcastRunnerMock) Start(ctx context.Context, req broadcast.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *BroadcastRunnerMock) Cancel(jobID string) error {
	return m.Called(jobID).Error(0)
}

func (m *BroadcastRunnerMock) Job(ctx context.Context, jobID string) (models.BroadcastJob, error) {
	args := m.Called(ctx, jobID)
	var job models.BroadcastJob
	if val := args.Get(0); val != nil {
		job = val.(models.BroadcastJob)
	}
	return job, args.Error(1)
}
