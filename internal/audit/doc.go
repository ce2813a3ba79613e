// Package audit delivers login and logout events to a Sink off the request path.
//
// [Dispatcher] is a buffered relay that either drops events when full or
// blocks the emitter until there is room. Sinks provided here write to a
// channel, a JSON line stream, or a zap logger. Callers decide which events
// to emit.
package audit
