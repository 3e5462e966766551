/*
Package provider abstracts the compute IaaS behind the Compute interface
and implements it on EC2.

Workers launch from a configured launch template with per-launch zone and
market placement; spot capacity failures and account quota refusals are
classified into typed errors so the provisioner can fall back or abort.
The tagged instance set returned by ListInstances is the autoscaler's
ground truth for worker inventory.
*/
package provider
