// Package serdio converts native call arguments to and from the byte
// payloads exchanged with enclave functions.
//
// Values are encoded with msgpack over a closed set of carrier types: nil,
// booleans, integers, floats, strings, byte strings, slices, and
// string-keyed maps. Custom types are supported through an optional
// EncodeHook/DecodeHook pair that converts them to and from the carrier set;
// no runtime reflection over unknown types is performed.
//
// The client treats Encode output as an opaque plaintext payload to seal,
// and Decode input as the opaque plaintext returned by the channel.
package serdio
