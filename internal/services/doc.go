// Package services bundles the daemon's core components behind a
// single Registry so wiring happens once, at startup.
//
// The registry hands out the task store, pipeline executor, QA gate,
// recovery advisor, event bus and publisher, and the secret scrubber.
// Build one with NewRegistry and pass it to whatever needs a service
// rather than threading seven constructor arguments around.
package services
