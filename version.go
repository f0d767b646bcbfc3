package eddy

// Version is the engine version. Overridable at build time via
// -ldflags "-X github.com/aretw0/eddy.Version=...".
var Version = "0.1.0"
