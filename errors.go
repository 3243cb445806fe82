package regioncache

import (
	"github.com/huykn/region-cache/cache"
	"github.com/huykn/region-cache/invalidation"
	"github.com/huykn/region-cache/types"
)

// ErrRemoteUnavailable is returned when the shared store cannot be reached.
var ErrRemoteUnavailable = types.ErrRemoteUnavailable

// ErrSerializationFailure is returned when a value cannot be encoded or a
// stored payload cannot be decoded.
var ErrSerializationFailure = types.ErrSerializationFailure

// ErrCacheClosed is returned when operations are performed on a closed cache.
var ErrCacheClosed = cache.ErrCacheClosed

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrUnknownKind is returned when a mutation kind has no invalidation rule.
var ErrUnknownKind = invalidation.ErrUnknownKind

// ErrMissingParam is returned when a mutation lacks a parameter its rules need.
var ErrMissingParam = invalidation.ErrMissingParam
