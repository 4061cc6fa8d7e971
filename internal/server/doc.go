// Package server accepts TCP (optionally TLS) connections and runs the
// HTTP/1.1 connection loop on each one.
//
// # Lifecycle
//
//	srv, err := server.New(cfg, router, server.WithObserver(m))
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // returns after SIGINT/SIGTERM or ctx ends
//
// Shutdown closes the listener, asks every connection loop to stop once its
// current exchange is done and waits up to the context deadline before
// closing what is left. Errors from each step are combined with multierr.
//
// # TLS
//
// A certificate pair named in the configuration is loaded at New. With
// tls.self_signed an RSA 2048 certificate for the configured host and the
// loopback addresses is generated in memory. The handshake itself runs in
// the connection goroutine, bounded by the read timeout.
//
// # Discovery
//
// With mdns.enabled the listening port is announced as an "_http._tcp"
// service for the lifetime of Serve.
package server
