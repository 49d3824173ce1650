// Package lpwan contains a Low-Power Wide-Area Network stack for
// resource-constrained wireless nodes: an IEEE 802.15.4-style MAC with
// beacon-synchronised superframes, CSMA-CA channel access and software
// acknowledgements (package mac), and a 6LoWPAN adaptation layer providing
// datagram fragmentation and reassembly over the MAC's limited payload
// (package sixlo). Both are driven from a single periodic tick and run
// without dynamic allocation on top of an injected radio capability
// (package radio).
package lpwan
