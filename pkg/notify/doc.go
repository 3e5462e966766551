/*
Package notify emits one structured event per scaling decision.

Delivery is best-effort and asynchronous: events queue on a buffered
channel drained by a single goroutine, so a slow or failing webhook never
delays or rolls back the decision it describes.
*/
package notify
