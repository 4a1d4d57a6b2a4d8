// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP/WebSocket adapter around the ingest
// pipeline and the control plane.
//
// It holds no state of its own: every handler delegates to the
// forwarder or the plane and translates results to HTTP. Producer
// responses carry the credit protocol in headers (X-Credits,
// X-Seq-Ack, X-Retry-After-MS) so even dropped frames tell the
// producer how to pace itself. The stats stream is exposed as a
// WebSocket pushing one JSON snapshot per second plus edges.
package server
