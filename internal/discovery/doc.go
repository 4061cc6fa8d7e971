// Package discovery announces an httpcore server over multicast DNS and
// browses the local network for other "_http._tcp" services.
//
// Announced instances carry a "server=httpcore" TXT record so peers can be
// told apart from unrelated HTTP services on the same segment. Browsing needs
// multicast on the interface and UDP port 5353 open.
package discovery
