// Package shared holds the analyzer contract and the go-plugin glue between the host and its
// analyzer plugins.
//
// The contract speaks in internal/findings types, so an analyzer plugin has to be built
// inside this module, the way plugins/entropy is. The wire format is net/rpc with gob.
package shared
