// Package access implements the account access layer: credential checks and
// sliding sessions, stateless email verification tokens, a declarative
// per-resource access policy with menu filtering, and a cleanup sweep that
// evicts stale unverified accounts.
//
// Principal lifecycle:
//   - AccountManager owns registration, verification, admin toggles and the
//     eviction sweep. Every status change goes through AccountStateMachine so
//     the transition table lives in one place and each applied change is
//     published to the configured ActivitySink.
//   - Verification uses an atomic compare-and-set on email_verified, so a
//     concurrent sweep never deletes a principal that verified itself.
//
// Sessions:
//   - SessionManager authenticates by username first and email second, and
//     reports a single ErrInvalidCredentials for every lookup or hash miss.
//   - Sessions carry a fixed idle window. Remember only changes how long the
//     client keeps the cookie, never the server side deadline.
//
// Access policy:
//   - Decide evaluates an AccessPolicy against a principal snapshot and fails
//     closed on unknown levels. Catalog keeps the resource table in memory and
//     refreshes it after every admin write.
//
// Storage:
//   - Components depend on PrincipalStore, SessionStore and MenuStore. The
//     repository package provides Bun backed stores (sqlite and postgres),
//     repository/mongostore provides MongoDB, and repository/memstore keeps
//     everything in process.
package access
