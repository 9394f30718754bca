// internal/storage/mongo/store.go

// Package mongo implements storage.Store on MongoDB. Samples are embedded
// in the run document, so finalizing a run is a single-document update.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tamzrod/ring-tester/internal/storage"
)

const (
	runsCollection   = "runs"
	alarmsCollection = "alarms"
)

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type Store struct {
	client *mongo.Client
	runs   *mongo.Collection
	alarms *mongo.Collection
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		client: client,
		runs:   db.Collection(runsCollection),
		alarms: db.Collection(alarmsCollection),
	}

	_, err = s.runs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "test_date", Value: -1}}},
		{Keys: bson.D{{Key: "sample_id", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ---- runs ----

func (s *Store) CreateRun(ctx context.Context, run storage.Run) error {
	if run.ID == "" {
		return errors.New("mongo: run id required")
	}
	if _, err := s.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("mongo: create run %s: %w", run.ID, err)
	}
	return nil
}

func (s *Store) FinalizeRun(ctx context.Context, id string, res storage.Result, samples []storage.Sample) error {
	if samples == nil {
		samples = []storage.Sample{}
	}

	update := bson.M{"$set": bson.M{
		"result":  res,
		"samples": samples,
		"status":  storage.RunCompleted,
	}}

	out, err := s.runs.UpdateOne(ctx, finalizeFilter(id), update)
	if err != nil {
		return fmt.Errorf("mongo: finalize run %s: %w", id, err)
	}
	if out.MatchedCount == 0 {
		return fmt.Errorf("mongo: finalize run %s: no recording run: %w", id, storage.ErrNotFound)
	}
	return nil
}

// finalizeFilter also matches a run that is already completed, so a
// retry after a lost acknowledgement rewrites the same document.
func finalizeFilter(id string) bson.M {
	return bson.M{"_id": id, "status": bson.M{"$in": bson.A{storage.RunRecording, storage.RunCompleted}}}
}

func abortFilter(id string) bson.M {
	return bson.M{"_id": id, "status": bson.M{"$ne": storage.RunCompleted}}
}

func (s *Store) AbortRun(ctx context.Context, id string) error {
	out, err := s.runs.UpdateOne(ctx,
		abortFilter(id),
		bson.M{"$set": bson.M{"status": storage.RunAborted}},
	)
	if err != nil {
		return fmt.Errorf("mongo: abort run %s: %w", id, err)
	}
	if out.MatchedCount == 0 {
		// completed runs are left alone
		n, err := s.runs.CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("mongo: abort run %s: %w", id, err)
		}
		if n == 0 {
			return fmt.Errorf("mongo: abort run %s: %w", id, storage.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (storage.Run, error) {
	var run storage.Run
	err := s.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Run{}, fmt.Errorf("mongo: run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return storage.Run{}, fmt.Errorf("mongo: get run %s: %w", id, err)
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, f storage.RunFilter) ([]storage.Run, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "test_date", Value: -1}}).
		SetProjection(bson.M{"samples": 0})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.runs.Find(ctx, runFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list runs: %w", err)
	}
	var out []storage.Run
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: list runs: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	out, err := s.runs.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongo: delete run %s: %w", id, err)
	}
	if out.DeletedCount == 0 {
		return fmt.Errorf("mongo: delete run %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ---- alarms ----

func (s *Store) RecordAlarm(ctx context.Context, a storage.Alarm) error {
	if a.ID == "" {
		return errors.New("mongo: alarm id required")
	}
	if _, err := s.alarms.InsertOne(ctx, a); err != nil {
		return fmt.Errorf("mongo: record alarm %s: %w", a.Code, err)
	}
	return nil
}

func (s *Store) ListAlarms(ctx context.Context, f storage.AlarmFilter) ([]storage.Alarm, error) {
	filter := bson.M{}
	if f.ActiveOnly {
		filter["acknowledged"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.alarms.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: list alarms: %w", err)
	}
	var out []storage.Alarm
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: list alarms: %w", err)
	}
	return out, nil
}

func (s *Store) AcknowledgeAlarm(ctx context.Context, id, by string) error {
	out, err := s.alarms.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"acknowledged":  true,
			"ack_timestamp": time.Now().UTC(),
			"ack_by":        by,
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo: acknowledge alarm %s: %w", id, err)
	}
	if out.MatchedCount == 0 {
		return fmt.Errorf("mongo: alarm %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// runFilter translates a storage.RunFilter into a query document.
func runFilter(f storage.RunFilter) bson.M {
	q := bson.M{}
	if f.SampleID != "" {
		q["sample_id"] = f.SampleID
	}
	if f.Passed != nil {
		q["result.passed"] = *f.Passed
	}
	date := bson.M{}
	if !f.From.IsZero() {
		date["$gte"] = f.From
	}
	if !f.To.IsZero() {
		date["$lte"] = f.To
	}
	if len(date) > 0 {
		q["test_date"] = date
	}
	return q
}

var _ storage.Store = (*Store)(nil)
