// Package config loads the httpcore YAML configuration file.
//
// A missing file yields Default(). Durations use Go syntax:
//
//	server:
//	  port: 8080
//	  read_timeout: 5s
//	  tls: {cert: server.pem, key: server.key}
//	logging: {level: debug}
//
// Watch reloads the file on change so the log level can be adjusted on a
// running server.
package config
