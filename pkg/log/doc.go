/*
Package log provides structured logging for the autoscaler built on zerolog.

Init configures the global logger once at process start; components derive
child loggers with WithComponent and attach cluster and tick context where
useful. Daemon mode uses JSON output, the CLI uses the console writer.
*/
package log
