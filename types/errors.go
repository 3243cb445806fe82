package types

import "errors"

// ErrSerializationFailure is returned when a value cannot be encoded or a
// payload cannot be decoded back into its original type.
var ErrSerializationFailure = errors.New("serialization failure")

// ErrRemoteUnavailable is returned when the shared remote store cannot be
// reached or times out. It is never used to signal a missing key.
var ErrRemoteUnavailable = errors.New("remote store unavailable")
