// Package mqtt is the bridge's broker session: publishing with QoS
// guarantees, wildcard subscriptions that survive reconnects, and a
// Last Will and Testament so consumers notice an unclean death.
//
// MQTT is the bridge's outward message bus. Normalized device states,
// scene lifecycles, connection transitions, and health reports go out
// over it; device commands come back in. The broker decouples the
// bridge from its consumers:
//
//	Consumers / Panels ↔ MQTT Broker ↔ Fibaro Bridge ↔ Home Center
//
// The fibaro package owns the message topics and shapes; this package
// only owns the session and the fibaro/system/status announcements.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, nil)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("fibaro/command/+", 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
//
//	client.Publish("fibaro/state/Room1_Light1", []byte(`{"on":true}`), 1, true)
//
// TLS and broker credentials come from configuration; anonymous
// plaintext is for local development only.
package mqtt
