package sessions

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository provides session persistence operations
type Repository interface {
	Insert(ctx context.Context, s *Session) (*Session, error)
	GetByID(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) (*Session, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// MongoRepository implements Repository using a Mongo collection
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

func (r *MongoRepository) Insert(ctx context.Context, s *Session) (*Session, error) {
	res, err := r.col.InsertOne(ctx, s)
	if err != nil {
		return nil, err
	}
	if res.InsertedID == nil {
		return nil, ErrPersistence
	}
	return s, nil
}

func (r *MongoRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Update replaces the token fields and the slid expiry of an existing row and
// returns the updated document.
func (r *MongoRepository) Update(ctx context.Context, s *Session) (*Session, error) {
	update := bson.M{"$set": bson.M{
		"accessToken":          s.AccessToken,
		"accessTokenExpiresAt": s.AccessTokenExpiresAt,
		"refreshToken":         s.RefreshToken,
		"expiresAt":            s.ExpiresAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var updated Session
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": s.ID}, update, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrPersistence
		}
		return nil, err
	}
	return &updated, nil
}

func (r *MongoRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (r *MongoRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.col.DeleteMany(ctx, bson.M{"userId": userID})
	return err
}
