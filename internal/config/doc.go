// Package config provides configuration management for clustertest.
//
// Configuration is loaded from multiple YAML sources and merged in order,
// with later sources overriding earlier ones:
//
//  1. Default configuration (built into the binary)
//  2. User configuration (~/.config/clustertest/config.yaml)
//  3. Project configuration (./.clustertest/config.yaml)
//  4. An explicit file passed with --config
//
// Command line flags are applied by the caller on top of the result.
//
// # Configuration Structure
//
//	server:
//	  command: ["./chat", "--port", "{{ port }}", "--peers", "{{ peers }}"]
//	  host: localhost
//	  basePort: 18000
//	  path: /mcp
//	  tls:
//	    enabled: false
//	  ready:
//	    type: log
//	    pattern: "listening on"
//	  env:
//	    CHAT_LOG_LEVEL: debug
//	bootstrap:
//	  readyTimeout: 10s
//	  shutdownGrace: 5s
//	runner:
//	  retryInterval: 1s
//	tests:
//	  dir: scenarios
//
// Durations use Go syntax. Unknown keys are rejected so typos do not go
// unnoticed.
//
// # Merging
//
// Scalar values in an overlay replace the base value when they are set. The
// server command is replaced as a whole, env maps are merged key by key.
// tls.enabled can only be switched on by an overlay.
package config
