// Package kms provides a library to interact with DRM
// (Direct Rendering Manager) and KMS (Kernel Mode Setting) interfaces.
// The root package opens devices and handles driver wide requests
// (version, capabilities, vblank waits and the event stream). Package mode
// wraps the raw mode setting ioctls and package display builds a shadow
// model of the whole display pipeline on top of them.
package kms
