// Package events is the message bus behind the event sink's bus publisher.
//
// Publishing goes through transacted Sessions handed out by a SessionPool:
// messages published into a session reach consumers only after Commit, and
// Rollback discards them. Two Broker implementations exist. EventBus keeps
// messages in PostgreSQL tables through watermill-sql and maps a session
// onto one pinned connection with a transaction per unit of work.
// MemoryBroker buffers in the session and hands committed messages to a
// watermill gochannel.
//
// Consumers on the SQL bus share a consumer group per service, so each
// message is handled by one instance. A failing handler is retried with
// exponential backoff and nacked once the attempts run out. Handlers must be
// idempotent.
//
// The W3C trace context of the publishing unit of work travels in message
// metadata and is restored for the handler.
package events
