// Package influxdb records fleet and schedule metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with batched,
// non-blocking writes. Metrics are optional: when InfluxDB is disabled
// Connect returns ErrDisabled and callers run without a recorder.
//
// # Measurements
//
//   - fleet_sequence: reported and sent sequence per device
//   - command_dispatch: attempts and outcome per delivered batch
//   - fleet_session: device connects and disconnects
//   - schedule_state: power state transitions
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry := fleet.NewRegistry(fleet.Options{Metrics: client})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Write errors are delivered
// asynchronously through the SetOnError callback.
package influxdb
