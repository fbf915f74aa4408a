// Package membership caches the organization memberships GitHub reported for
// a user, keyed by username and bound to the access token that produced them.
//
// A Record is only usable while the presented token hashes to the stored
// TokenHash and the record has not reached its ExpiresAt. Backends:
//
//   - MemoryCache: process-local, bounded expirable LRU
//   - RedisCache: shared between replicas, JSON values with a TTL
package membership
