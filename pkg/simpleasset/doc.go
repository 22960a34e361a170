// Package simpleasset provides the shared domain types for ingesting, storing
// and garbage-collecting tenant-owned image assets.
//
// Assets are stored in an ObjectStore under a tenant namespace: either an
// ephemeral preview namespace (temp-preview/{previewId}) or a durable site
// namespace ({siteId}). Subpackages implement the individual pieces:
//
//   - objectkey: storage path grammar and random key generation
//   - fetchguard: SSRF checks for remote source URLs
//   - sniff: magic-byte content authentication
//   - transcode: size/quality negotiation
//   - ingest: URL and direct-upload ingestion pipelines
//   - configdoc: typed config documents and URL extraction/rewriting
//   - lifecycle: claim, duplicate, orphan and expiry sweeps
//   - storage/{memory,fs,s3}: ObjectStore backends
//
// Multi-object operations are not atomic. Each per-object step either
// succeeds or is recorded as a Failure in a Report, and re-running an
// operation only retries what is left.
package simpleasset
