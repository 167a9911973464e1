// Package harness runs purchase scenarios against a scripted storefront.
//
// A scenario describes a product page, one purchase request, worker
// configuration overrides and the expected outcome. The harness builds the
// page with storefront, drives it with the real purchase flow and checks
// the event trace, the outcome and the recorded activity.
//
// # Scenario Format
//
//	name: scenario_a_pinned_valid
//	description: "Pinned Amazon offer at the expected price is bought"
//	product:
//	  layout: dialog
//	  pinned: { price: "$29.74", ships_from: Amazon.com, sold_by: Amazon.com }
//	request:
//	  price: "29.74"
//	  product: Widget
//	config:
//	  max_retries: 2
//	  confirm_final_order: true
//	confirmation: deliver
//	expect:
//	  status: COMPLETED
//	  reason: order_placed
//	  orders: 1
//	assertions:
//	  - type: trace_order
//	    states: [OPENING_PRODUCT, PLACING_ORDER, COMPLETED]
//	  - type: trace_count
//	    kind: attempt
//	    state: PLACING_ORDER
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: an event with the given kind (and state, outcome,
//     detail when set) is in the trace
//   - trace_order: the listed states were entered in this order
//   - trace_count: exactly count events of kind (and state) are in the trace
//   - driver_calls: the page saw exactly count calls of op on field
//   - activity: the recorded activity row has the expected values
//
// # Deterministic Testing
//
// Every scenario runs with a deterministic event sequence, a stepping
// wall clock starting at testutil.Epoch, a fixed request id, recorded
// (not slept) retry delays and an in-memory activity store, so traces are
// identical across runs and can be compared to golden files.
package harness
