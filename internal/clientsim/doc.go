// Package clientsim simulates Minecraft clients against the verification
// world. It builds serverbound frames for the packets the proxy only ever
// decodes and is used by tests and the load generator.
package clientsim
