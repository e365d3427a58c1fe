package db

import (
	"context"
	"fmt"
	"time"

	"arcade/server/internal/types"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const matchCollection = "match_results"

type MongoRecorder struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func ConnectMongo(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoRecorder{Client: client, Database: client.Database(database)}, nil
}

func (r *MongoRecorder) Record(ctx context.Context, m types.MatchResult) error {
	_, err := r.Database.Collection(matchCollection).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("mongo insert match %s: %w", m.ID, err)
	}
	return nil
}

func (r *MongoRecorder) Recent(ctx context.Context, limit int) ([]types.MatchResult, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ended_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := r.Database.Collection(matchCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []types.MatchResult
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoRecorder) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Client.Disconnect(ctx)
}
