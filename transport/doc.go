// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the byte sink the dispatcher writes bus
// messages to.
//
// The dispatcher is the only component that touches a Transport; the
// interface is deliberately small so a mock and the real RS-485
// serial port are interchangeable. Errors are classified into
// transient (retry on the next tick) and permanent (the dispatcher
// degrades until an operator resets the transport); classification
// lives here because only the adapter knows whether its underlying
// device can recover.
package transport
