package relational

import (
	"time"

	"estatedesk/internal/domain/conversation"
)

// InquiryRow is one submitted property inquiry.
type InquiryRow struct {
	ID            string    `gorm:"type:varchar(64);primaryKey"`
	BuyerID       string    `gorm:"type:varchar(64);index:idx_inquiry_key,priority:1"`
	PropertyID    string    `gorm:"type:varchar(64);not null;index:idx_inquiry_key,priority:2"`
	BuyerName     string    `gorm:"type:varchar(255)"`
	BuyerEmail    string    `gorm:"type:varchar(255)"`
	BuyerPhone    string    `gorm:"type:varchar(64)"`
	PropertyTitle string    `gorm:"type:varchar(255)"`
	Message       string    `gorm:"type:text"`
	Status        string    `gorm:"type:varchar(16);not null;default:new"`
	CreatedAt     time.Time `gorm:"index"`
	UpdatedAt     time.Time
}

func (InquiryRow) TableName() string { return "inquiries" }

func (r InquiryRow) toDomain() conversation.Inquiry {
	status, err := conversation.ParseStatus(r.Status)
	if err != nil {
		status = conversation.StatusNew
	}
	return conversation.Inquiry{
		ID:            r.ID,
		Key:           conversation.NewKey(r.BuyerID, r.PropertyID),
		BuyerName:     r.BuyerName,
		BuyerEmail:    r.BuyerEmail,
		BuyerPhone:    r.BuyerPhone,
		PropertyTitle: r.PropertyTitle,
		Message:       r.Message,
		Status:        status,
		CreatedAt:     r.CreatedAt.UTC(),
	}
}

func rowFromDomain(inq conversation.Inquiry) InquiryRow {
	buyer := inq.Key.BuyerID
	if inq.Key.IsGuest() {
		buyer = ""
	}
	status := inq.Status
	if !status.Valid() {
		status = conversation.StatusNew
	}
	return InquiryRow{
		ID:            inq.ID,
		BuyerID:       buyer,
		PropertyID:    inq.Key.PropertyID,
		BuyerName:     inq.BuyerName,
		BuyerEmail:    inq.BuyerEmail,
		BuyerPhone:    inq.BuyerPhone,
		PropertyTitle: inq.PropertyTitle,
		Message:       inq.Message,
		Status:        string(status),
		CreatedAt:     inq.CreatedAt,
	}
}
