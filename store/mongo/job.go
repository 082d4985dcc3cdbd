package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/getshortzy/clipqueue"
	"github.com/getshortzy/clipqueue/id"
	"github.com/getshortzy/clipqueue/job"
)

// CreateJob inserts a new job document.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if _, err := s.jobs().InsertOne(ctx, toJobModel(j)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return clipqueue.ErrJobAlreadyExists
		}
		return fmt.Errorf("clipqueue/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.jobs().FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, clipqueue.ErrJobNotFound
		}
		return nil, fmt.Errorf("clipqueue/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// TransitionJob applies the transition with a single FindOneAndUpdate
// whose filter pins the expected status. The update is an aggregation
// pipeline so started_at keeps its first value.
func (s *Store) TransitionJob(ctx context.Context, t job.Transition) (*job.Job, error) {
	at := t.At.UTC()
	jID := t.JobID.String()

	set := bson.D{
		{Key: "status", Value: string(t.To)},
		{Key: "updated_at", Value: at},
		{Key: "started_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$started_at", at}}}},
	}
	if t.To.Terminal() {
		set = append(set, bson.E{Key: "completed_at", Value: at})
	}
	if t.To == job.StateFailed {
		set = append(set, bson.E{Key: "error", Value: t.Error})
	}
	update := mongod.Pipeline{{{Key: "$set", Value: set}}}

	var m jobModel
	err := s.jobs().FindOneAndUpdate(ctx,
		bson.M{"_id": jID, "status": string(t.From)},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			count, existErr := s.jobs().CountDocuments(ctx, bson.M{"_id": jID})
			if existErr != nil {
				return nil, fmt.Errorf("clipqueue/mongo: check job exists: %w", existErr)
			}
			if count == 0 {
				return nil, clipqueue.ErrJobNotFound
			}
			return nil, clipqueue.ErrStateConflict
		}
		return nil, fmt.Errorf("clipqueue/mongo: transition job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobs returns matching jobs ordered by created_at then ID.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if f.Offset > 0 {
		findOpts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		findOpts.SetLimit(int64(f.Limit))
	}

	cursor, err := s.jobs().Find(ctx, jobFilter(f), findOpts)
	if err != nil {
		return nil, fmt.Errorf("clipqueue/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("clipqueue/mongo: decode jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching f.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	n, err := s.jobs().CountDocuments(ctx, jobFilter(f))
	if err != nil {
		return 0, fmt.Errorf("clipqueue/mongo: count jobs: %w", err)
	}
	return n, nil
}

// DeleteCompletedBefore removes completed jobs finished before cutoff.
func (s *Store) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.jobs().DeleteMany(ctx, bson.M{
		"status":       string(job.StateCompleted),
		"completed_at": bson.M{"$lt": cutoff.UTC()},
	})
	if err != nil {
		return 0, fmt.Errorf("clipqueue/mongo: delete completed jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// jobFilter translates f into a query document.
func jobFilter(f job.Filter) bson.M {
	filter := bson.M{}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		filter["status"] = bson.M{"$in": states}
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, typ := range f.Types {
			types[i] = string(typ)
		}
		filter["type"] = bson.M{"$in": types}
	}
	if f.OwnerID != "" {
		filter["owner_id"] = f.OwnerID
	}
	switch {
	case !f.BatchID.IsNil():
		filter["batch_id"] = f.BatchID.String()
	case f.Standalone:
		filter["batch_id"] = ""
	}

	created := bson.M{}
	if !f.CreatedAfter.IsZero() {
		created["$gte"] = f.CreatedAfter.UTC()
	}
	if !f.CreatedBefore.IsZero() {
		created["$lt"] = f.CreatedBefore.UTC()
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}
	if !f.CompletedAfter.IsZero() {
		filter["completed_at"] = bson.M{"$gte": f.CompletedAfter.UTC()}
	}
	return filter
}
