/*
Package provisioner launches workers and waits for them to join the
cluster.

Placement planning balances zones lowest-count-first and steers the fleet
toward the configured spot percentage. Launches fall back from spot to
on-demand within the same zone when capacity runs out, and instances that
miss the join deadline are terminated rather than left running unjoined.
*/
package provisioner
