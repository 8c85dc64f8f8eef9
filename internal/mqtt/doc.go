// Package mqtt publishes call-center telemetry to an MQTT broker.
//
// The publisher maintains one retained availability topic with a
// birth/will pair and a set of plain state topics under
// vika/<device>/: active calls, calls handled today, confirmed
// orders, daily token usage, uptime and version. Dashboards subscribe
// to the state topics directly; there is no discovery protocol.
//
// The publisher is optional. When mqtt.enabled is false nothing in
// this package runs.
package mqtt
