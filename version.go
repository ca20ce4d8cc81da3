package coachflow

// Version is the release version. Builds override it with
// -ldflags "-X github.com/aretw0/coachflow.Version=...".
var Version = "0.4.0-dev"
