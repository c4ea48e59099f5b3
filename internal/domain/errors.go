package domain

import "errors"

var (
	// ErrProviderUnavailable means the embedding endpoint could not be reached
	// or refused the request.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrProviderResponseInvalid means the embedding endpoint answered with a
	// malformed or incomplete response.
	ErrProviderResponseInvalid = errors.New("embedding provider response invalid")
	// ErrInvalidRetrievalRequest is returned for K < 1 or an empty corpus.
	ErrInvalidRetrievalRequest = errors.New("invalid retrieval request")
	// ErrComposerUnavailable means the answer could not be composed.
	ErrComposerUnavailable = errors.New("answer composer unavailable")
	// ErrCorpusLoad is fatal at startup: the corpus is malformed or its
	// dimensionality does not match the embedding provider.
	ErrCorpusLoad = errors.New("corpus load error")
	// ErrInvalidInput is returned for empty questions or texts.
	ErrInvalidInput = errors.New("invalid input")
)
