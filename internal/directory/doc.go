// Package directory defines the remote collaborators of the envelope
// protocol: the public key directory, the wrapped conversation key store and
// the conversation membership source.
//
// Two implementations are provided. Memory keeps everything in process and
// supports fault injection for tests. Client talks to a muna directory server
// over HTTP and retries transient failures with exponential backoff.
//
// Only public keys and wrapped keys pass through this package. Private key
// material never leaves the device.
package directory
