// Package blelink drives devices over Bluetooth LE with
// tinygo.org/x/bluetooth.
//
// A Link owns one adapter. It probes an identity by scanning for its
// advertisement, switches an application into its bootloader through the
// Nordic buttonless DFU characteristic, and lists nearby DFU-capable
// devices. The radio performs one operation at a time; concurrent calls
// queue on the Link.
package blelink
