// Package sensorhub holds the shared data model for a distributed sensor
// hub node: node/peer identity, the sensor-entry value type, and the
// wire envelope exchanged between nodes. Subpackages under internal/
// implement the runtime (state engine, transport, membership, HTTP API)
// against these types.
package sensorhub
