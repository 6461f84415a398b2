/*
Package scaler implements the hysteresis-gated scale-up/scale-down
decision (C5). Controller.Evaluate is a pure decision function; the
reconciler (pkg/reconciler) is the only caller and the only package
that executes its Actions against the runtime and KV store.
*/
package scaler
