// Package repository provides backends for modkit.Store.
//
// MemoryStore is the default and keeps values in process. SQLStore and
// RedisStore persist values as JSON so that any serialisable V can be
// stored without a schema per type.
package repository
