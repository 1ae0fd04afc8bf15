package inbox

import (
	"context"
	"log/slog"
	"sort"

	"estatedesk/internal/domain/conversation"
)

// Reconciler merges inquiry rows and chat rooms into one conversation per key.
type Reconciler struct {
	Buyers BuyerDirectory
	Logger *slog.Logger
}

// Reconcile is recomputed from scratch on every refresh. A nil rooms slice means the
// chat store was unreachable; the result then only holds inquiry-backed conversations.
func (r Reconciler) Reconcile(ctx context.Context, inquiries []conversation.Inquiry, rooms []conversation.Room, currentUserID string) []conversation.Conversation {
	latestInquiry, inquiryOrder := r.groupInquiries(inquiries)
	latestRoom, roomOrder := r.groupRooms(rooms, currentUserID)

	out := make([]conversation.Conversation, 0, len(inquiryOrder)+len(roomOrder))
	for _, key := range inquiryOrder {
		inq := latestInquiry[key]
		conv := fromInquiry(inq)
		if room, ok := latestRoom[key]; ok {
			conv.LastMessage = room.LastMessage
			conv.LastActivity = room.Activity()
			conv.ChatRoomID = room.ID
			if mark, ok := room.MarkFor(currentUserID); ok && mark.Status.Valid() {
				conv.Status = mark.Status
			}
		}
		out = append(out, conv)
	}
	for _, key := range roomOrder {
		if _, ok := latestInquiry[key]; ok {
			continue
		}
		out = append(out, r.chatOnly(ctx, latestRoom[key], currentUserID))
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (r Reconciler) groupInquiries(inquiries []conversation.Inquiry) (map[conversation.Key]conversation.Inquiry, []conversation.Key) {
	latest := make(map[conversation.Key]conversation.Inquiry, len(inquiries))
	order := make([]conversation.Key, 0, len(inquiries))
	for _, inq := range inquiries {
		if err := inq.Validate(); err != nil {
			r.warn("skipping malformed inquiry", "inquiry_id", inq.ID, "error", err)
			continue
		}
		current, ok := latest[inq.Key]
		if !ok {
			latest[inq.Key] = inq
			order = append(order, inq.Key)
			continue
		}
		if inq.CreatedAt.After(current.CreatedAt) {
			latest[inq.Key] = inq
		}
	}
	return latest, order
}

func (r Reconciler) groupRooms(rooms []conversation.Room, currentUserID string) (map[conversation.Key]conversation.Room, []conversation.Key) {
	latest := make(map[conversation.Key]conversation.Room, len(rooms))
	order := make([]conversation.Key, 0, len(rooms))
	for _, room := range rooms {
		if err := room.Validate(); err != nil {
			r.warn("skipping malformed chat room", "room_id", room.ID, "error", err)
			continue
		}
		if room.ReceiverID != currentUserID {
			r.warn("dropping chat room owned by another agent",
				"room_id", room.ID, "receiver_id", room.ReceiverID, "user_id", currentUserID, "error", ErrOwnershipMismatch)
			continue
		}
		current, ok := latest[room.Key]
		if !ok {
			latest[room.Key] = room
			order = append(order, room.Key)
			continue
		}
		if room.UpdatedAt.After(current.UpdatedAt) {
			latest[room.Key] = room
		}
	}
	return latest, order
}

func (r Reconciler) chatOnly(ctx context.Context, room conversation.Room, currentUserID string) conversation.Conversation {
	profile := r.lookupBuyer(ctx, room.Key)
	status := conversation.StatusNew
	if mark, ok := room.MarkFor(currentUserID); ok && mark.Status.Valid() {
		status = mark.Status
	}
	return conversation.Conversation{
		Key:          room.Key,
		BuyerID:      room.Key.BuyerID,
		PropertyID:   room.Key.PropertyID,
		BuyerName:    profile.Name,
		BuyerEmail:   profile.Email,
		BuyerPhone:   profile.Phone,
		LastMessage:  room.LastMessage,
		LastActivity: room.Activity(),
		Status:       status,
		ChatRoomID:   room.ID,
		IsChatOnly:   true,
	}
}

func (r Reconciler) lookupBuyer(ctx context.Context, key conversation.Key) conversation.BuyerProfile {
	placeholder := conversation.PlaceholderBuyer()
	if r.Buyers == nil || key.IsGuest() {
		return placeholder
	}
	profile, err := r.Buyers.GetBuyer(ctx, key.BuyerID)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Debug("buyer lookup failed", "buyer_id", key.BuyerID, "error", err)
		}
		return placeholder
	}
	if profile.Name == "" {
		profile.Name = placeholder.Name
	}
	return profile
}

func (r Reconciler) warn(msg string, attrs ...any) {
	if r.Logger != nil {
		r.Logger.Warn(msg, attrs...)
	}
}

func fromInquiry(inq conversation.Inquiry) conversation.Conversation {
	status := inq.Status
	if !status.Valid() {
		status = conversation.StatusNew
	}
	return conversation.Conversation{
		Key:           inq.Key,
		BuyerID:       inq.Key.BuyerID,
		PropertyID:    inq.Key.PropertyID,
		BuyerName:     inq.BuyerName,
		BuyerEmail:    inq.BuyerEmail,
		BuyerPhone:    inq.BuyerPhone,
		PropertyTitle: inq.PropertyTitle,
		LastMessage:   inq.Message,
		LastActivity:  inq.CreatedAt,
		Status:        status,
		InquiryID:     inq.ID,
	}
}
