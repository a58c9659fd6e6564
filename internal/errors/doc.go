// Package errors renders failures as RFC 7807 problem documents.
//
// Engine errors from package license are mapped to HTTP statuses by StatusFor:
//
//	MalformedKey, InvalidRequest      400
//	NotFound                          404
//	InsufficientTokens                402
//	Revoked, Expired, InvalidState    403
//	AlreadyEntitled                   409
//	RateLimited                       429
//	Transient                         503
//	context deadline                  504
//
// Every problem carries the engine's stable error_code and the request id.
package errors
