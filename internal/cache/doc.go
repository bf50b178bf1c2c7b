// Package cache provides the LRU entry cache behind the caching connector
// decorator. Entries are directory listings, blob inventories, and existence
// bits keyed by normalized path; the decorator owns all invalidation.
package cache
