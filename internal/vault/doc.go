// Package vault is the lifecycle state machine for the encrypted
// local database.
//
// A vault is always in one of three states:
//
//	Uninitialized -> Create / MigratePlainDB / AdoptFromSyncFolder -> Unlocked
//	Locked        -> Open -> Unlocked
//	Unlocked      -> Lock -> Locked
//
// Every transition either fully succeeds or leaves state and on-disk
// artifacts exactly as they were. Session-mutating operations are
// serialized through a single mutex, so Lock can never discard the key
// under an in-flight Save. Operations are synchronous and
// context-aware; callers that must stay responsive invoke them from
// their own goroutine.
package vault
