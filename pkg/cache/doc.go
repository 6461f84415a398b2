/*
Package cache is the proxy's static-asset response cache (pkg/proxy
consults it for GET requests to image/script/stylesheet paths).
Expired entries are reclaimed two ways: lazily on Get, and by a
background sweep every DefaultSweepInterval.
*/
package cache
