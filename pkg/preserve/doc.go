// Package preserve implements the asynchronous ingest/preservation
// pipeline of an institutional repository: bitstreams are staged into a
// blob store, handed off to the remote Medusa archive over message-queue
// RPC, and tracked through an eventually-consistent state machine until
// the staged copy can be reaped.
//
// The Service interface is the bitstream lifecycle manager (stage,
// trigger ingest, serve, delete from staging). MessageHandler consumes
// the incoming queue and reconciles responses against ingest records,
// tolerating duplicate and out-of-order delivery. Ledger maintains atomic
// monthly download counters. Repositories (memory, Postgres), blob stores
// (memory, S3), and queue transports (memory, NATS) are provided under
// subpackages.
//
// Delivery Guarantees
//
// The queue transport is assumed at-least-once with no ordering. Response
// application is idempotent: a record that reached ok never changes again,
// and duplicate ok responses are dropped without re-applying side effects
// such as staging deletion. At most one non-terminal ingest record exists
// per staging key, enforced at the persistence layer.
package preserve
