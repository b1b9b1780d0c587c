/*
Package cache derives build cache keys and composes cache backends.

A key is the pair (stage identity, input hash). The stage identity folds the
stage name together with a fingerprint of its configuration, so changing a
stage option invalidates every prior entry without any explicit purge. The
input hash is the SHA-256 of the record bytes; path and modification time never
participate, so a changed file always yields a new key.
*/
package cache
