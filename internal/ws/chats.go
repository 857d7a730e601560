package ws

import (
	"github.com/baatchit/internal/model"
)

// Рассылки для управления групповыми чатами (вызываются сервисным слоем после коммита).

// ChatCreated подключает живых участников к комнате и отправляет им NEW_CHAT.
func (h *Hub) ChatCreated(chat *model.ChatWithMembers) {
	ids := make([]string, 0, len(chat.Members))
	for _, m := range chat.Members {
		ids = append(ids, m.ID)
	}
	h.reg.JoinRoom(ids, chat.ID)
	h.broadcastToRoom(chat.ID, OutgoingMessage{Type: EventNewChat, Payload: newChatPayload{Chat: chat}}, nil)
}

// MembersAdded: прежние участники получают NEW_MEMBER_ADDED, новые получают NEW_CHAT.
func (h *Hub) MembersAdded(chat *model.ChatWithMembers, added []model.UserSummary) {
	addedIDs := make([]string, 0, len(added))
	for _, u := range added {
		addedIDs = append(addedIDs, u.ID)
	}
	h.broadcastToRoom(chat.ID, OutgoingMessage{Type: EventNewMemberAdded, Payload: membersAddedPayload{
		ChatID:  chat.ID,
		Members: added,
	}}, nil)
	out := OutgoingMessage{Type: EventNewChat, Payload: newChatPayload{Chat: chat}}
	for _, id := range addedIDs {
		h.sendToUser(id, out)
	}
	h.reg.JoinRoom(addedIDs, chat.ID)
}

// MembersRemoved: удалённые получают DELETE_CHAT и покидают комнату, оставшиеся получают MEMBER_REMOVED.
func (h *Hub) MembersRemoved(chatID string, removedIDs []string) {
	h.reg.LeaveRoom(removedIDs, chatID)
	out := OutgoingMessage{Type: EventDeleteChat, Payload: deleteChatPayload{ChatID: chatID}}
	for _, id := range removedIDs {
		h.sendToUser(id, out)
	}
	h.broadcastToRoom(chatID, OutgoingMessage{Type: EventMemberRemoved, Payload: membersRemovedPayload{
		ChatID:    chatID,
		MembersID: removedIDs,
	}}, nil)
}

func (h *Hub) GroupUpdated(chat *model.Chat) {
	h.broadcastToRoom(chat.ID, OutgoingMessage{Type: EventGroupChatUpdate, Payload: groupUpdatePayload{
		ChatID:     chat.ID,
		ChatName:   chat.Name,
		ChatAvatar: chat.Avatar,
	}}, nil)
}
