// Package progress provides the run event log: the Event type, the Sink and
// Emitter interfaces, and a Recorder that stamps every event with the run ID
// and fans it out to sinks in emission order.
package progress
