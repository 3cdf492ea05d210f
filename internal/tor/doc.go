// Package tor routes page fetches for .onion hosts through the Tor network.
//
// Phishing kits are increasingly mirrored on hidden services. A Client wraps
// a SOCKS5 dialer and hands out HTTP clients that the fetcher uses for hosts
// ending in .onion. Daemon starts a private Tor process via tornago when
// no system Tor is available.
package tor
