// Package mqtt provides the MQTT connection used for remote control,
// sentiment data and status publishing.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and retained-message support
//   - Wildcard subscriptions restored after reconnects
//   - Last Will and Testament for offline detection
//
// Topic layout (see Topics):
//
//	ada/control/<sender>        remote-control paths from kiosks and tools
//	ada/state                   replies and power state announcements
//	ada/sentiment               per-zone emotion lists
//	ada/bridge/health           smart-plug bridge health
//	ada/fleet/session/<device>  device connect/disconnect events
//	ada/firmware/hash           current firmware hash (retained)
//	ada/system/status           server online/offline (retained, LWT)
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllControl(), 1,
//	    func(topic string, payload []byte) error {
//	        sender := mqtt.SenderFromControl(topic)
//	        ...
//	    })
package mqtt
