// Package nats carries the paravirtual camera rings over an embedded NATS
// server, for frontends that reach the backend through a message bus rather
// than hypervisor shared rings.
//
// # Architecture
//
//   - Server: embedded NATS server running in the backend process
//   - Transport: backend connection; one Ring per bound frontend
//   - FrontendClient: guest side of a ring, used by emulated frontends and
//     the probe command
//   - Bridge: republishes in-process bus events on NATS for observers
//
// # Subject Hierarchy
//
//	camback.fe.{dom}.{dev}.req     # 64-byte request records (request/reply)
//	camback.fe.{dom}.{dev}.evt     # 64-byte event records (backend → frontend)
//	camback.fe.{dom}.{dev}.state   # JSON session state (backend → frontend)
//	camback.events.{kind}          # JSON bus events (backend → observers)
//
// The frontend prefix is configurable. A request is answered on its reply
// subject with a 64-byte response record. Requests of one frontend are
// handled one at a time in arrival order.
//
// # Debugging with nats CLI
//
// Watch session state and bus events:
//
//	nats sub "camback.fe.*.*.state"
//	nats sub "camback.events.>" | jq .
//
// Send a config-get request (op 0x01) for domain 3, device 0:
//
//	printf '\x01\x00\x01\x00\x00\x00\x00\x00%056d' 0 | \
//	  nats req camback.fe.3.0.req --raw
//
// # Message Formats
//
// StateMessage (camback.fe.{dom}.{dev}.state):
//
//	{
//	  "dom_id": 3,
//	  "dev_id": 0,
//	  "unique_id": "video0",
//	  "session_id": "5f0c2b1e-8d3a-4c36-9a57-1f3c0e2d9b11",
//	  "state": "connected",
//	  "timestamp": "2026-01-01T12:00:00Z"
//	}
package nats
