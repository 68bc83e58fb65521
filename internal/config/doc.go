// Package config handles configuration loading for relay-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relay/gateway.yaml
//  3. ~/.config/relay/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	identity:
//	  timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Websocket and REST API
//
// Database:
//
//	database:
//	  path: "/var/lib/relay/gateway.db"
//
// Workspaces:
//
//	workspace:
//	  root: "/var/lib/relay/workspaces"
//
// Identity resolution (external service; falls back to local JWT
// verification via auth.jwt_secret when url is empty):
//
//	identity:
//	  url: "https://id.example.com/resolve"
//	  timeout: "10s"
//
//	auth:
//	  jwt_secret: "${RELAY_JWT_SECRET}"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Required server, database, and workspace paths
//   - At least one identity path (identity.url or auth.jwt_secret)
//   - Duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/relay/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
