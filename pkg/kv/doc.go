/*
Package kv is the agent's persistence layer for the desired-replica
register and per-worker metadata, grounded on original_source's Redis
usage (deployment-agent/src/db.rs) and resolved to a concrete
implementation on top of redis/go-redis/v9.

Keys: DESIRED (the process-wide desired replica count) and
container:<md5(app_id:name)> (a hash of {category, score, port,
image} for one worker). Only the reconciler and scaling controller
write; the metrics collector and dispatcher never touch KV directly.
*/
package kv
