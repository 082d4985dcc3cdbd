package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AcquireLock takes the named lock for ttl. An expired lock, or one this
// store already holds, is taken over. When another owner holds a live
// lock the upsert collides on _id and AcquireLock reports false.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	t := now()
	filter := bson.M{
		"_id": name,
		"$or": bson.A{
			bson.M{"locked_until": bson.M{"$lt": t}},
			bson.M{"owner": s.owner},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"owner":        s.owner,
			"locked_until": t.Add(ttl),
		},
	}

	var m lockModel
	err := s.db.Collection(colLocks).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("clipqueue/mongo: acquire lock %s: %w", name, err)
	}
	return m.Owner == s.owner, nil
}

// ReleaseLock drops the named lock if this store owns it.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	_, err := s.db.Collection(colLocks).DeleteOne(ctx, bson.M{"_id": name, "owner": s.owner})
	if err != nil {
		return fmt.Errorf("clipqueue/mongo: release lock %s: %w", name, err)
	}
	return nil
}
