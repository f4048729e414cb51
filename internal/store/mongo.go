package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/furnistore/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type cartDocument struct {
	SessionID string             `bson:"session_id"`
	Items     []lineItemDocument `bson:"items"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

// lineItemDocument stores the price as a string to keep decimal precision.
type lineItemDocument struct {
	ProductID string `bson:"id"`
	Quantity  int    `bson:"quantity"`
	Price     string `bson:"price"`
	Name      string `bson:"name,omitempty"`
	Image     string `bson:"image,omitempty"`
	Variant   string `bson:"variant,omitempty"`
}

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection("carts")}
}

func (m *MongoStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	raw, err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	// decode separately so transport errors are not mistaken for corruption
	var doc cartDocument
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	cart := &domain.Cart{Items: make([]domain.CartLineItem, 0, len(doc.Items))}
	for _, item := range doc.Items {
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: product %s: %w", ErrCorrupt, item.ProductID, err)
		}
		cart.Items = append(cart.Items, domain.CartLineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: price,
			Attributes: domain.Attributes{
				Name:    item.Name,
				Image:   item.Image,
				Variant: item.Variant,
			},
		})
	}
	if err := cart.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return cart, nil
}

// Save replaces the whole session document with the current cart.
func (m *MongoStore) Save(ctx context.Context, sessionID string, cart *domain.Cart) error {
	doc := cartDocument{
		SessionID: sessionID,
		Items:     make([]lineItemDocument, 0, len(cart.Items)),
		UpdatedAt: time.Now(),
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, lineItemDocument{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.UnitPrice.String(),
			Name:      item.Name,
			Image:     item.Image,
			Variant:   item.Variant,
		})
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"session_id": sessionID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
