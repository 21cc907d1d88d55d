// Package mqtt mirrors Wellpen's event bus onto an MQTT broker so other
// systems can follow content conversations: stage handoffs and stage
// changes are published per conversation, and loop activity under a
// shared topic.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. A retained
// availability topic carries "online" after every (re-)connect, and a
// will message flips it to "offline" on unexpected disconnects.
package mqtt
