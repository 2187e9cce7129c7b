// Package domain defines the core types shared by the hub and its transports.
//
// Concept-oriented files: message.go (payload + type tag), state.go (close-handshake
// states), routing.go (inbound routing policy), errors.go (sentinel errors).
// No implementation code beyond parsing and formatting.
package domain
