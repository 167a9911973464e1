// Package purchase defines the data model shared by the purchase pipeline:
// inbound requests, offer candidates, seller decisions, flow states,
// attempt logs and terminal outcomes.
//
// Types in this package carry no behavior beyond validation, ordering and
// identity. Everything that touches a browser lives in the driver, offer and
// flow packages.
package purchase
