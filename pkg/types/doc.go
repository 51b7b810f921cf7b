/*
Package types defines the durable entities and transient protocol payloads
shared across indexctl's orchestration packages.

# Entities

CCPair is a (connector, credential) binding plus its operational status and
indexing trigger. IndexAttempt is a single indexing run against a cc-pair
under a specific set of search settings. IndexAttemptError records a
per-document failure so it can later be resolved once a document succeeds
in a subsequent batch.

# Fence protocol payloads

FencePayload is the value written into the distributed fence key created by
the controller and updated by the fetching worker. DocExtractionContext and
DocIndexingContext are the two small structs tracked in batch storage while
an attempt's batches are being processed; they are not persisted to the
durable row store, only to the KV/batch substrate (see pkg/kv, pkg/fence).
*/
package types
