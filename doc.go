// Package accounts implements account identity and consolidation for a
// multi-tenant research platform: the account lifecycle state machine,
// verification-token issuance, email ownership, federated identity claims,
// account merging, and the authentication gateway in front of it all.
//
// Account lifecycle:
//   - Accounts move through unregistered, unconfirmed, active, and disabled,
//     with merged and deleted as terminal states. AccountStateMachine owns
//     the transition graph, timestamp handling, and the GDPR erasure
//     eligibility gates; every status change goes through it.
//   - Status is derived, not stored: StatusGate evaluates the account's
//     confirmation, registration, merge, and disable facts and yields the
//     typed error a login should surface.
//
// Tokens and email:
//   - TokenVault issues single-use, time-limited confirmation, claim, and
//     password-reset tokens and fails safe on missing expirations. The write
//     that spends a token shares a transaction with its validation so a
//     token cannot be double-spent.
//   - EmailRegistry tracks each account's confirmed and pending addresses,
//     resolves confirmation-time collisions (including opt-in merges of the
//     colliding account), and enforces the resend throttle decision.
//
// Merging:
//   - MergeEngine folds one account into another across profile state,
//     emails, identity claims, contributorship, quick files, and groups,
//     finishing by scrubbing the source into its terminal merged state.
//     Re-running a completed merge is a no-op.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the gateway, the
//     state machine, and the merge engine. Sinks run best-effort (errors are
//     logged) so you can forward to a database or queue without blocking the
//     operation.
package accounts
