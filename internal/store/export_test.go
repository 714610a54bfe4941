package store

import "context"

// FlushForTest empties the Redis database behind s.
func FlushForTest(s *RedisStore) error {
	return s.client.FlushDB(context.Background()).Err()
}
