// Package todevice encrypts, decrypts and classifies point-to-point
// device messages, the transport for key-exchange and session setup.
package todevice
