// Package notifications pushes sync milestones to the user via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set. A
// bus bridge translates in-process queue events into notifications so
// engines never depend on this package.
package notifications
