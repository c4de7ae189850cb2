// Package sessions tracks every client query session in the replicated
// key-value store and exposes the lifecycle operations the rest of the
// cluster uses: create, heartbeat update, list, get, remove, and query kill.
//
// # Concurrency Model
//
// One process-wide reader/writer lock guards the entire session domain.
// List and Get take shared mode and may run concurrently with each other;
// Create, Update, Remove, and Kill take exclusive mode and serialize with
// every other session operation. Durable writes block the lock holder until
// the engine acknowledges commit, so a wedged store stalls all session
// traffic. That tradeoff buys straightforward linearizability of session
// mutations and is intentional.
//
// # Kill Protocol
//
// Cancelling a query is a two-phase signal with no push channel:
//
//	KillQueries    -> stamps the stored query status to KILLING (intent)
//	UpdateSessions -> the owning client's next heartbeat observes the stamp,
//	                  receives the affected plans back, and cancels locally
//
// A session absent from the store during a heartbeat is reported back as
// killed, which tells the client to drop it entirely.
package sessions
