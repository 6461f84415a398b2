/*
Package scoring implements the composite worker score and category
assignment (C4) plus the resource-percentage extraction feeding it
(C3's formula half; the TCP probe itself lives in pkg/health). Called
once per non-SUNDOWN worker per reconciler tick, except for workers
created during that same tick.
*/
package scoring
