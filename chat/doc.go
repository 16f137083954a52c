// Package chat contains the live chat monitor and its building blocks.
//
// A Monitor watches one live chat at a time (identified by an opaque handle such as a
// YouTube liveChatId or a Twitch channel login). Every tick it:
//   - fetches the next page of messages from the Source through a bounded worker gateway,
//   - drops ids it has already seen (bounded dedup ring),
//   - notifies every registered Subscriber, sequentially and in registration order,
//   - asks the response Gate whether an automated reply should be attempted and, if so,
//     calls the Responder and sends the reply with retry,
//   - runs the idle filler and, on a slower cadence, re-attempts queued failed sends.
//
// Only the tick goroutine touches session state (cursor, dedup set, activity times), so
// ticks never overlap and no locking is needed there. Subscriber notification is
// synchronous: a slow subscriber delays the rest of the tick, which keeps ordering simple
// at the cost of tick latency being the sum of subscriber latencies.
//
// StartAutoMonitor polls a LiveResolver and starts/stops the monitor as the stream goes
// live and offline. Recorder and Broadcaster are ready-made subscribers that persist
// messages to Postgres and fan them out to SSE clients.
package chat
