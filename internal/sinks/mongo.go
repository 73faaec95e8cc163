package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoSink writes pushed items to a MongoDB collection, grounded on
// internal/storage/database.go's MongoStorage.
type mongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongo connects to uri and returns a Sink writing into
// database.collection.
func NewMongo(uri, database, collection string, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("sinks: mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("sinks: mongodb ping: %w", err)
	}

	return &mongoSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_sink"),
	}, nil
}

func (s *mongoSink) Write(id string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := map[string]any{"_id_key": id, "data": data, "_storedAt": time.Now().UnixMilli()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("sinks: mongodb insert: %w", err)
	}
	s.count++
	return nil
}

func (s *mongoSink) Close() error {
	s.logger.Info("mongo sink closing", "items", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
