// Package api provides typed wrappers for the Deribit public JSON-RPC methods.
//
// Calls go through a Caller, normally *connection.RPCClient. Server
// rejections surface as *connection.RPCError; rate-limit style rejections are
// retried with jittered exponential backoff.
package api
