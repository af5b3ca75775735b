// Package kasa talks to the smart-plug bridge that switches mains power to
// the installation's light strips.
//
// The bridge is a small helper process that owns the plugs' own wire cipher
// and discovery. It connects to the fleet server, identifies itself with the
// name "HS105Switches", and from then on answers plain text commands:
//
//	on      -> "ok"
//	off     -> "ok"
//	status  -> "10.0.0.5:True,10.0.0.6:False"
//
// Client wraps that connection. A transport failure drops the connection
// and is remembered as the bridge error until the bridge reconnects.
//
// HealthReporter periodically publishes the bridge status to MQTT so remote
// dashboards can show whether mains power is actually on.
package kasa
