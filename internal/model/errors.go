package model

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy. Errors carry one of these tags; callers branch with the
// Is* helpers rather than matching messages.
var (
	TagValidation           = goerr.NewTag("validation")
	TagNotFound             = goerr.NewTag("not_found")
	TagStoreIO              = goerr.NewTag("store_io")
	TagIndexUnavailable     = goerr.NewTag("index_unavailable")
	TagEmbeddingUnavailable = goerr.NewTag("embedding_unavailable")
)

func IsValidation(err error) bool { return goerr.HasTag(err, TagValidation) }

func IsNotFound(err error) bool { return goerr.HasTag(err, TagNotFound) }

func IsStoreIO(err error) bool { return goerr.HasTag(err, TagStoreIO) }

func IsIndexUnavailable(err error) bool { return goerr.HasTag(err, TagIndexUnavailable) }

func IsEmbeddingUnavailable(err error) bool { return goerr.HasTag(err, TagEmbeddingUnavailable) }
