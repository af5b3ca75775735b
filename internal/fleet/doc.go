// Package fleet manages the connected lighting devices.
//
// # Architecture
//
//	choreography ──QueueCommand──► Registry ──► per-device queue ──► Session ──► Transport ──► device
//	                                   ▲                                │
//	                                   └──────── ping replies ──────────┘
//
// The Server accepts TCP connections and reads the device name handshake.
// Three kinds of client share the port:
//
//   - "IPCAMERA" pushes camera signals (faces, movement, emotions) which
//     are queued on the registry's camera queue
//   - "HS105Switches" is the smart-plug bridge, wrapped in a kasa.Client
//   - any other name is a lighting device with its own dispatch Session
//
// # Dispatch protocol
//
// Each exchange is one write and one reply. Commands are JSON; the device
// replies "ok", or "update" to request the firmware image, which is sent as
// a 4-byte big-endian length followed by the raw bytes. When idle, the
// session pings once a second and the device replies with the sequence
// number of the last command batch it applied.
//
// # Sequence numbers
//
// The registry owns a batch counter. Every queued command is stamped with
// it and the receiving session's sent and reported sequences are both set
// to it, assuming delivery. Ping replies correct the reported sequence; a
// device whose reported sequence drifts more than StaleThreshold from the
// sent one is stale and the choreography replays current state to it.
//
// # Locking
//
// One registry mutex guards the session table and the batch counter and is
// never held across network I/O. Queues synchronise themselves, and each
// session guards its own sequence pair.
package fleet
