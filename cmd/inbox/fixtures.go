package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"estatedesk/internal/domain/conversation"
)

var defaultFixturesPath = filepath.Join("data", "inbox.json")

type inboxFixtures struct {
	Inquiries []inquiryFixture `json:"inquiries"`
	Buyers    []buyerFixture   `json:"buyers"`
	Rooms     []roomFixture    `json:"rooms"`
}

type inquiryFixture struct {
	ID            string `json:"id"`
	BuyerID       string `json:"buyer_id"`
	PropertyID    string `json:"property_id"`
	BuyerName     string `json:"buyer_name"`
	BuyerEmail    string `json:"buyer_email"`
	BuyerPhone    string `json:"buyer_phone"`
	PropertyTitle string `json:"property_title"`
	Message       string `json:"message"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type buyerFixture struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type roomFixture struct {
	ID         string           `json:"id"`
	BuyerID    string           `json:"buyer_id"`
	PropertyID string           `json:"property_id"`
	ReceiverID string           `json:"receiver_id"`
	Messages   []messageFixture `json:"messages"`
}

type messageFixture struct {
	SenderID string `json:"sender_id"`
	Role     string `json:"role"`
	Text     string `json:"text"`
}

// loadFixtures seeds the in-memory stores from a JSON file. A missing file is not an error.
func (a *application) loadFixtures(ctx context.Context, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("inbox fixtures file not found, skipping", "path", path)
			return nil
		}
		return fmt.Errorf("read fixtures: %w", err)
	}
	if len(data) == 0 {
		logger.Warn("inbox fixtures file empty", "path", path)
		return nil
	}
	var fixtures inboxFixtures
	if err := json.Unmarshal(data, &fixtures); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}

	now := time.Now().UTC()
	if a.memInquiries != nil {
		for _, fx := range fixtures.Inquiries {
			status, err := conversation.ParseStatus(fx.Status)
			if err != nil {
				status = conversation.StatusNew
			}
			inq := conversation.Inquiry{
				ID:            fx.ID,
				Key:           conversation.NewKey(fx.BuyerID, fx.PropertyID),
				BuyerName:     fx.BuyerName,
				BuyerEmail:    fx.BuyerEmail,
				BuyerPhone:    fx.BuyerPhone,
				PropertyTitle: fx.PropertyTitle,
				Message:       fx.Message,
				Status:        status,
				CreatedAt:     parseFixtureTime(fx.CreatedAt, now),
			}
			if err := a.memInquiries.Save(ctx, inq); err != nil {
				logger.Error("cannot store fixture inquiry", "inquiry_id", fx.ID, "error", err)
				continue
			}
		}
	}
	if a.memBuyers != nil {
		for _, fx := range fixtures.Buyers {
			a.memBuyers.Put(fx.ID, conversation.BuyerProfile{Name: fx.Name, Email: fx.Email, Phone: fx.Phone})
		}
	}
	if a.memChat != nil {
		for _, fx := range fixtures.Rooms {
			a.memChat.PutRoom(conversation.Room{
				ID:         fx.ID,
				Key:        conversation.NewKey(fx.BuyerID, fx.PropertyID),
				ReceiverID: fx.ReceiverID,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			for _, m := range fx.Messages {
				if _, err := a.memChat.AppendMessage(ctx, fx.ID, m.SenderID, conversation.Role(m.Role), m.Text); err != nil {
					logger.Error("cannot store fixture message", "room_id", fx.ID, "error", err)
				}
			}
		}
	}
	logger.Info("inbox fixtures imported", "inquiries", len(fixtures.Inquiries), "buyers", len(fixtures.Buyers), "rooms", len(fixtures.Rooms))
	return nil
}

func parseFixtureTime(value string, fallback time.Time) time.Time {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return fallback
}
