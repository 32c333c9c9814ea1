// Package msgs provides L1 protocol support and all message schemas.
//
// L1 is spoken between the counter service owning a device and its
// remote clients. Every packet is a Typed envelope whose type id tells
// the kind (command or event), the group and whether it is a reply.
package msgs
