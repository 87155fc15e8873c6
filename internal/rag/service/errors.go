package service

import "errors"

var (
	// ErrCollectionRequired is returned when an operation has no collection
	// name, neither on the request nor as the Service's default.
	ErrCollectionRequired = errors.New("rag service: collection name is required")

	// ErrNoDocumentStore is returned by IngestBookFromStore when the Service
	// was constructed without WithDocumentStore.
	ErrNoDocumentStore = errors.New("rag service: no document store configured")
)
