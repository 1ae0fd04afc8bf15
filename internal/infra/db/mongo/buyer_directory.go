package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"estatedesk/internal/domain/conversation"
)

var ErrBuyerNotFound = errors.New("mongo: buyer not found")

// BuyerDirectory reads buyer profiles from the users collection.
type BuyerDirectory struct {
	col *mongo.Collection
}

func NewBuyerDirectory(db *mongo.Database) *BuyerDirectory {
	return &BuyerDirectory{col: db.Collection("users")}
}

type buyerDocument struct {
	ID        string `bson:"_id"`
	FirstName string `bson:"first_name"`
	LastName  string `bson:"last_name"`
	Name      string `bson:"name"`
	Email     string `bson:"email"`
	Phone     string `bson:"phone"`
	AvatarURL string `bson:"avatar_url"`
}

func (d *BuyerDirectory) GetBuyer(ctx context.Context, buyerID string) (conversation.BuyerProfile, error) {
	opts := options.FindOne().SetProjection(bson.M{
		"first_name": 1, "last_name": 1, "name": 1, "email": 1, "phone": 1, "avatar_url": 1,
	})
	var doc buyerDocument
	if err := d.col.FindOne(ctx, bson.M{"_id": buyerID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return conversation.BuyerProfile{}, ErrBuyerNotFound
		}
		return conversation.BuyerProfile{}, err
	}
	name := strings.TrimSpace(doc.FirstName + " " + doc.LastName)
	if name == "" {
		name = strings.TrimSpace(doc.Name)
	}
	return conversation.BuyerProfile{
		Name:      name,
		Email:     doc.Email,
		Phone:     doc.Phone,
		AvatarURL: doc.AvatarURL,
	}, nil
}
