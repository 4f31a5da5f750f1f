// Package gateway provides the public API for embedding the envelope gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/envelope-gateway/internal/runtime"
)

// Gateway runs the gateway pipeline, admin API and metrics.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithConfigFile("config.yaml"),
//	    gateway.WithSQLite("./data/gateway.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig

	// Access-record storage
	WithSQLite            = runtime.WithSQLite
	WithMemoryStore       = runtime.WithMemoryStore
	WithAccessRecordStore = runtime.WithAccessRecordStore

	// Transport
	WithUpstreamTransport = runtime.WithUpstreamTransport
	WithListenAddr        = runtime.WithListenAddr

	WithLogger = runtime.WithLogger
)
