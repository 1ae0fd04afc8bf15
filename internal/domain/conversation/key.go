package conversation

import (
	"errors"
	"strings"
)

// GuestBuyer is the buyer component used for inquiries submitted without an account.
const GuestBuyer = "guest"

const keySeparator = "|"

var ErrInvalidKey = errors.New("conversation: invalid key")

// Key identifies one logical conversation across the inquiry and chat stores.
type Key struct {
	BuyerID    string
	PropertyID string
}

// NewKey normalises the components; an empty buyer becomes GuestBuyer.
func NewKey(buyerID, propertyID string) Key {
	buyerID = strings.TrimSpace(buyerID)
	if buyerID == "" {
		buyerID = GuestBuyer
	}
	return Key{BuyerID: buyerID, PropertyID: strings.TrimSpace(propertyID)}
}

func (k Key) IsGuest() bool {
	return k.BuyerID == GuestBuyer
}

func (k Key) IsZero() bool {
	return k.BuyerID == "" && k.PropertyID == ""
}

func (k Key) String() string {
	return k.BuyerID + keySeparator + k.PropertyID
}

// ParseKey reverses Key.String.
func ParseKey(raw string) (Key, error) {
	buyer, property, ok := strings.Cut(strings.TrimSpace(raw), keySeparator)
	if !ok || strings.TrimSpace(property) == "" {
		return Key{}, ErrInvalidKey
	}
	return NewKey(buyer, property), nil
}
