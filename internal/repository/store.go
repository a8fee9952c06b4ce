// Package repository defines the storage interface and its SQLite implementation.
package repository

import (
	"context"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context) ([]domain.Conversation, error)
	UpdateConversationSettings(ctx context.Context, id string, settings domain.ConversationSettings) error
	DeleteConversation(ctx context.Context, id string) error

	// Message operations
	CreateMessage(ctx context.Context, msg *domain.Message) error
	// SaveTurn persists a turn's pending input and, when non-nil, the
	// assistant reply in one transaction.
	SaveTurn(ctx context.Context, pending *domain.Message, assistant *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// ListMessages returns up to limit messages, most recent first.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, id string) error

	// Approval operations
	CreateApproval(ctx context.Context, ap *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListApprovals(ctx context.Context, conversationID string, status domain.ApprovalStatus) ([]domain.ApprovalRequest, error)
	SetApprovalNotification(ctx context.Context, id, notificationID string) error
	// ResolveApproval moves a pending request to status. It reports false
	// when the request was not pending, so each request resolves at most once.
	ResolveApproval(ctx context.Context, id string, status domain.ApprovalStatus) (bool, error)

	// Notification operations
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	ListNotifications(ctx context.Context, conversationID string, activeOnly bool) ([]domain.Notification, error)
	SupersedeNotification(ctx context.Context, id string) error

	// Note operations
	CreateNote(ctx context.Context, note *domain.Note) error
	ListNotes(ctx context.Context, conversationID string, limit int) ([]domain.Note, error)

	// Lifecycle
	Close() error
}
