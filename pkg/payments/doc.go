// Package payments turns captured-payment notifications into credit grants.
//
// The payment provider (or the checkout backend talking to it) POSTs a JSON
// notification signed with HMAC-SHA256 over the raw body:
//
//	X-Credits-Signature: sha256=<hex digest>
//
//	{"event_type":"payment.captured","payment_ref":"pay_1","user_id":"u1","amount":"19.00","currency":"USD"}
//
// Processor.HandleCapture makes sure the user has a balance, then applies the
// payment either as a first subscription or as a renewal that replaces the
// remaining subscription credits. Repeated deliveries of the same payment
// reference are reported as duplicates and change nothing.
package payments
