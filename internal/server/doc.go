// Package server implements the WebSocket front end of the realtime service.
//
// Each accepted connection is verified against the access collaborator, wrapped
// in a Client that implements realtime.Conn and registered in the shared
// realtime.Registry for its channel. The files are split by concern:
// configuration, origin policy, rate limiting, clients, handlers, routing and
// HTTP server lifecycle.
package server
