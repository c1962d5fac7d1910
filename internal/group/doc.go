// Package group manages conversation keys for group messaging.
//
// Two message shapes are supported. A GroupEnvelope carries one payload key
// wrapped separately for every member and needs no server state. An
// EpochEnvelope is encrypted under the conversation's stored epoch key, which
// RotateGroupKey distributes by writing one wrapped copy per member to the
// wrapped-key store.
//
// Rotation creates epoch N+1 and never touches earlier epochs. Members added
// later cannot read messages from epochs they were never given, and members
// removed before a rotation cannot read anything encrypted after it.
package group
