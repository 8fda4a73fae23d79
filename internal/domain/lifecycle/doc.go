// Package lifecycle implements the forward-only fulfillment state machine.
//
// Phases and decision subphases are total orders with an integer rank. Evaluation
// computes the stage an order's data supports; Advance decides whether that stage
// may replace the current one. A computed regression is never applied.
package lifecycle
