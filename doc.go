// Package gcunified is a client for the Global Caché "Unified TCP API":
// the line-oriented ASCII protocol GC-100, iTach, Flex, and GlobalConnect
// devices speak on port 4998 for IR, serial, relay, and sensor control.
//
// A Client owns one connection to one device. Connect dials it; Send
// queues a command, waits for the connection to be available, writes it,
// and resolves once the device's response arrives, a busy retry budget is
// exhausted, or a timeout fires. The connection is supervised in the
// background: drops are retried with backoff and the queue is paused and
// resumed around the outage transparently to callers already waiting on
// Send.
//
// Device discovery (UDP beacons), multi-device connection pooling, and a
// command-line client are out of scope here; this package is the
// request/response transport a higher-level tool would build on.
package gcunified
