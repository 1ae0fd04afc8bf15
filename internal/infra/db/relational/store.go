package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"estatedesk/internal/domain/conversation"
)

var (
	ErrUnknownDriver   = errors.New("relational: unknown driver")
	ErrInquiryNotFound = errors.New("relational: inquiry not found")
)

// Open connects to postgres or sqlite and migrates the inquiry table.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&InquiryRow{}); err != nil {
		return nil, fmt.Errorf("relational: migrate: %w", err)
	}
	return db, nil
}

// InquiryStore reads and patches inquiries through gorm.
type InquiryStore struct {
	db *gorm.DB
}

func NewInquiryStore(db *gorm.DB) *InquiryStore {
	return &InquiryStore{db: db}
}

// List returns every inquiry, newest first. Rows sharing a key are not merged.
func (s *InquiryStore) List(ctx context.Context) ([]conversation.Inquiry, error) {
	var rows []InquiryRow
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]conversation.Inquiry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *InquiryStore) UpdateStatus(ctx context.Context, id string, status conversation.Status) error {
	if !status.Valid() {
		return conversation.ErrInvalidStatus
	}
	res := s.db.WithContext(ctx).
		Model(&InquiryRow{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInquiryNotFound
	}
	return nil
}

func (s *InquiryStore) Create(ctx context.Context, inq conversation.Inquiry) error {
	if err := inq.Validate(); err != nil {
		return err
	}
	row := rowFromDomain(inq)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *InquiryStore) ByID(ctx context.Context, id string) (conversation.Inquiry, error) {
	var row InquiryRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return conversation.Inquiry{}, ErrInquiryNotFound
		}
		return conversation.Inquiry{}, err
	}
	return row.toDomain(), nil
}
