// Copyright 2026 The Flip-Disc Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration shared by the control
// socket client and server.
//
// Encoding is Core Deterministic (RFC 8949 §4.2) so identical
// requests and responses are byte-identical. Decoding ignores unknown
// fields for forward compatibility between mismatched client and
// server versions.
package codec
