package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &MongoStore{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

func (s *MongoStore) FindOne(ctx context.Context, collection string, filter map[string]any, out any) error {
	res := s.db.Collection(collection).FindOne(ctx, bson.M(filter))
	if err := res.Decode(out); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return ErrNotFound
		}
		return fmt.Errorf("find one: %w", err)
	}

	return nil
}

func (s *MongoStore) FindAll(ctx context.Context, collection string, filter map[string]any, out any) error {
	cur, err := s.db.Collection(collection).Find(ctx, bson.M(filter))
	if err != nil {
		return fmt.Errorf("find: %w", err)
	}

	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	return nil
}

func (s *MongoStore) InsertOne(ctx context.Context, collection string, doc any) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert one: %w", err)
	}

	return nil
}

func (s *MongoStore) UpdateOne(ctx context.Context, collection string, filter map[string]any, op UpdateOp, update map[string]any) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M(filter), bson.M{"$" + string(op): bson.M(update)})
	if err != nil {
		return fmt.Errorf("update one: %w", err)
	}

	if res.MatchedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *MongoStore) DeleteOne(ctx context.Context, collection string, filter map[string]any) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M(filter))
	if err != nil {
		return fmt.Errorf("delete one: %w", err)
	}

	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
