/*
Package types defines the wire and domain records shared by the
balancer and the agent: the Worker record, its lifecycle Category, and
the FleetSnapshot that carries both over the state-sync channel.

These types intentionally carry no behavior beyond ordering and
eligibility helpers; scoring lives in pkg/scoring, scaling decisions in
pkg/scaler, and KV persistence in pkg/kv. Keeping this package free of
those dependencies lets every other package import it without a cycle.
*/
package types
