// Package redis implements store.Store on Redis. Each job is a Hash, a
// Sorted Set scored by creation time keeps list order, and a second Sorted
// Set indexes completed jobs for retention cleanup. Status transitions run
// as Lua scripts so the compare-and-set is atomic on the server.
//
// The store also implements cron.Locker, letting several instances share
// one maintenance schedule.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
