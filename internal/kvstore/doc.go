// Package kvstore is the companion's small persistent key-value store.
//
// Values are JSON documents addressed by slash-separated paths such as
// "global-connection/access-token" or "irrigation/valves". The store is a
// tree: deleting or overwriting "a" also removes every "a/..." key below it.
//
// Rows live in the kv_store table created by the embedded migrations.
// Subscribers registered with OnChange are told about every set and delete
// after the write commits.
package kvstore
