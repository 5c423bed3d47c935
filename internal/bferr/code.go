/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package bferr implements the error taxonomy described by the proxy's
// error handling design: every fallible operation is tagged with a Kind
// and carries an optional chain of parent errors, never a raw string.
package bferr

import (
	"net/http"
	"strconv"
)

// Kind is a coarse error taxonomy, not a type name: it answers "what went
// wrong", independent of where it happened.
type Kind uint16

const (
	KindUnknown Kind = iota
	KindTransport
	KindProtocol
	KindAuthorization
	KindAdmission
	KindRouting
	KindNotAllowed
	KindPathSafety
	KindInternal
)

var kindNames = map[Kind]string{
	KindUnknown:       "unknown",
	KindTransport:     "transport",
	KindProtocol:      "protocol",
	KindAuthorization: "authorization",
	KindAdmission:     "admission",
	KindRouting:       "routing",
	KindNotAllowed:    "not_allowed",
	KindPathSafety:    "path_safety",
	KindInternal:      "internal",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Status returns the HTTP status code a Kind is surfaced as, per the error
// handling design. Admission is deliberately not mapped: admission
// rejection is a silent socket close, never a client-visible status.
func (k Kind) Status() int {
	switch k {
	case KindProtocol:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusProxyAuthRequired
	case KindRouting:
		return http.StatusNotFound
	case KindNotAllowed:
		return http.StatusMethodNotAllowed
	case KindPathSafety:
		return http.StatusForbidden
	case KindTransport:
		return http.StatusBadGateway
	case KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
