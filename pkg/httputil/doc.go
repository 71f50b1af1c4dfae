// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, balance)
//	httputil.WriteBadRequest(w, "amount must be positive")
//	httputil.WriteUnauthorized(w, "missing authorization header")
//
// Errors from pkg/credits are mapped to status codes in one place:
//
//	if err != nil {
//		httputil.WriteDomainError(w, r, err)
//		return
//	}
//
//	insufficient credits    402 {"error":"insufficient_credits","remaining":0}
//	balance not found       404
//	invalid amount/argument 400
//	store unavailable       503 (Retry-After: 1)
//	anything else           500
//
// # Request Parsing
//
// JSON bodies are decoded strictly (unknown fields rejected) and validated with
// go-playground/validator struct tags:
//
//	var req ConsumeRequest
//	if !httputil.DecodeAndValidate(w, r, &req) {
//		return // Error response already written
//	}
//
// Query and path parameters:
//
//	limit, err := httputil.ParseLimit(r, 50, 500)
//	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/middleware: Authentication, credit gating and rate limiting
package httputil
