// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_audiosocket

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// HandshakeMaxBytes is how much of the stream the admission server reads
// before deciding what the peer is.
const HandshakeMaxBytes = 64

var httpVerbs = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("HEAD"),
	[]byte("PUT "),
	[]byte("DELE"),
	[]byte("OPTI"),
	[]byte("CONN"),
}

// IsScanTraffic reports whether the first bytes look like an HTTP request
// or a TLS ClientHello rather than an AudioSocket handshake. Port scanners
// and crawlers routinely hit the listener; such connections are closed
// silently and never counted as calls.
func IsScanTraffic(b []byte) bool {
	if len(b) >= 2 && b[0] == 0x16 && b[1] == 0x03 {
		return true
	}
	for _, verb := range httpVerbs {
		if bytes.HasPrefix(b, verb) {
			return true
		}
	}
	return false
}

// ParseCallID extracts the call identifier from the handshake bytes.
//
// The canonical form is a KindID frame carrying a 16-byte UUID:
// 0x01 | 0x00 0x10 | uuid[16]. Some dial-plans instead send a bare UTF-8
// identifier; as a last resort the hex of the first 16 bytes is used so a
// malformed peer still gets a stable id instead of a dropped call.
func ParseCallID(b []byte) string {
	if len(b) >= 19 && b[0] == KindID && b[1] == 0x00 && b[2] == 0x10 {
		id, err := uuid.FromBytes(b[3:19])
		if err == nil {
			return id.String()
		}
	}
	text := strings.TrimSpace(strings.ReplaceAll(string(b), "\x00", ""))
	if text != "" && utf8.ValidString(text) && isPrintable(text) {
		return text
	}
	n := len(b)
	if n > 16 {
		n = 16
	}
	if n == 0 {
		return uuid.New().String()
	}
	return hex.EncodeToString(b[:n])
}

func isPrintable(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			return false
		}
	}
	return true
}
