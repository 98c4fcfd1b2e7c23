package service

import (
	"context"
	"fmt"
	"strings"

	"livedoc/internal/modules/transport/domain"
	apperrors "livedoc/internal/platform/errors"
)

func (m *Manager) SendChat(ctx context.Context, roomID, content string) (domain.Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return domain.Message{}, fmt.Errorf("%w: room id is required", apperrors.ErrInvalidInput)
	}
	return m.Send(ctx, domain.TypeChatMessage, domain.ChatPayload{RoomID: roomID, Content: content})
}

func (m *Manager) MarkAsRead(ctx context.Context, roomID, messageID string) error {
	_, err := m.Send(ctx, domain.TypeMarkAsRead, domain.ReadReceiptPayload{RoomID: roomID, MessageID: messageID})
	return err
}

func (m *Manager) JoinRoom(ctx context.Context, roomID string) error {
	_, err := m.Send(ctx, domain.TypeJoinRoom, domain.RoomPayload{RoomID: roomID})
	return err
}

func (m *Manager) LeaveRoom(ctx context.Context, roomID string) error {
	_, err := m.Send(ctx, domain.TypeLeaveRoom, domain.RoomPayload{RoomID: roomID})
	return err
}

func (m *Manager) SendTyping(ctx context.Context, roomID string, typing bool) error {
	_, err := m.Send(ctx, domain.TypeTyping, domain.TypingPayload{RoomID: roomID, IsTyping: typing})
	return err
}

func (m *Manager) UpdateStatus(ctx context.Context, status string) error {
	_, err := m.Send(ctx, domain.TypeUserStatus, domain.StatusPayload{Status: status})
	return err
}
