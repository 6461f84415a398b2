/*
Package dispatcher implements weighted-random worker selection for the
balancer's forward path (pkg/proxy calls Pick once per request). The
weight vector is rebuilt from the latest fleet snapshot (pkg/statesync)
at most once per 10s, and also whenever a fresh snapshot arrives.
*/
package dispatcher
