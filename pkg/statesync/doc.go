/*
Package statesync transports worker-fleet snapshots from the agent to
the balancer over a push websocket channel. Publisher (agent side)
serves /ws and pushes the latest snapshot to every subscriber every 2s
under a 5s write deadline. Subscriber (balancer side) dials that
endpoint, reconnects with exponential backoff, and exposes the latest
received snapshot via an atomic pointer for the dispatcher to read.
*/
package statesync
