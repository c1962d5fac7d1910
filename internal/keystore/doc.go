// Package keystore persists the device's identity private keys.
//
// SecureStorage is the app-private key/value collaborator: FileStorage keeps
// one 0600 file per key inside a 0700 directory, SealedStorage wraps another
// storage and seals every value with NaCl secretbox under a passphrase-derived
// key, and MemoryStorage serves tests.
//
// LocalKeyStore layers the identity slot on top, namespaced by user ID:
//
//	muna/<user>/identity    current slot: {version, private_key, suite}
//	muna/<user>/archive     JSON list of retained versions
//	muna/<user>/archive/<v> retained slot for version v
//
// There is no remote mirror. Losing local storage loses every historical key
// version, and with it access to content encrypted under those versions.
package keystore
