// Provides the broker's socket address and file locations.
//
// The socket lives in the abstract Unix-domain namespace and is derived
// from the real uid, so every OS user gets an isolated broker. File paths
// (the detached broker's log) follow XDG conventions.
package paths
