// Package cli implements the credits-admin command line tool.
//
// # Commands
//
// Read side:
//
//	credits-admin balance <user-id>
//	credits-admin history <user-id> --limit 20
//	credits-admin subscriptions <user-id>
//
// Repairs:
//
//	credits-admin grant-initial <user-id>
//	credits-admin capture <user-id> --ref pay_123 --amount 29.00
//	credits-admin expire <user-id>
//
// Maintenance:
//
//	credits-admin sweep
//	credits-admin verify <user-id>
//	credits-admin migrate
//
// Every command accepts --json. The ledger is opened through an Opener, so
// commands can be tested against any store.
package cli
