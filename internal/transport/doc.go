// Package transport provides the duplex connection to the speech service.
package transport
