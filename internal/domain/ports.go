package domain

import "context"

// ItemStore is the driven port for the durable item store. Positions are
// slot handles within a collection, not identities.
type ItemStore interface {
	// ListItems returns the items of a collection in natural order.
	ListItems(ctx context.Context, collection string) ([]TrackedItem, error)
	// GetItemAt returns the item in a slot, or ErrItemNotFound.
	GetItemAt(ctx context.Context, collection string, position int64) (*TrackedItem, error)
	UpdateItem(ctx context.Context, collection string, position int64, f Fields) error
	AppendItem(ctx context.Context, collection string, f Fields) error
	DeleteItem(ctx context.Context, collection string, position int64) error
}

// Strategy checks the live status of one platform's links.
type Strategy interface {
	Platform() Platform
	// Check observes the item's link. It must not modify the item.
	Check(ctx context.Context, item TrackedItem) (CheckResult, error)
}
