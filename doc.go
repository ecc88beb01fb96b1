// Package one defines the domain types shared by the go-one transport:
// queue identifiers, the packet header and its wire layout, and the
// error taxonomy returned by queue operations and the dispatcher.
//
// The transport itself is split across packages:
//
//	session/    - reference-counted handle to the queue device
//	queue/      - queue lifecycle and transfer primitives
//	dispatcher/ - background worker multiplexing many queues onto one receive
//	device/     - the control-call boundary and its Linux ioctl backend
package one
