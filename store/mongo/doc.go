// Package mongo implements store.Store on MongoDB using the official v2
// driver. Suitable for deployments that already run MongoDB and want
// horizontal scaling for job history.
//
// Jobs live in one collection keyed by job ID. Status transitions use
// FindOneAndUpdate with the expected status in the filter, so the
// compare-and-set happens on the server. BSON dates carry millisecond
// precision, so timestamps round-trip truncated to the millisecond.
//
// The caller owns the *mongo.Client lifecycle:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("clipqueue"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
