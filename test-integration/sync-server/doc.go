// Package integration runs several sync server instances against one shared
// store and one Redis fabric, and drives them through real WebSocket clients.
package integration
