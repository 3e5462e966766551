/*
Package errdefs defines the typed error kinds the autoscaler reasons about.

Adapters translate raw transport and cloud API errors into these kinds
before they reach the reconciler, which dispatches on the kind rather than
on error strings. The AWS classification helpers map smithy API error codes
onto the kinds the provisioner and state store need to distinguish.
*/
package errdefs
