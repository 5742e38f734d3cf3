package common

// Version is the service version. Overridden at build time via
// -ldflags "-X github.com/ruteri/tee-function-client/common.Version=...".
var Version = "dev"
