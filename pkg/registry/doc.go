/*
Package registry wraps the cluster's node objects behind the Registry
interface: listing workers, cordoning, pod eviction, and node deletion.

The Kubernetes implementation selects nodes by the labels the launch
template stamps at bootstrap and resolves provider instance ids from node
providerID fields. Eviction goes through the eviction subresource so the
API server enforces termination grace periods.
*/
package registry
