/*
Package secrets fetches operational secrets (cluster join token, webhook
URL, metrics credentials) from Parameter Store, caching them for the
process lifetime.
*/
package secrets
