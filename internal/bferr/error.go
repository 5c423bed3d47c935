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

package bferr

import (
	"errors"
	"strings"
)

// Error is a Kind-tagged error with an optional chain of parent causes.
// Internal control flow never inspects error strings to branch; callers
// switch on Kind.
type Error interface {
	error
	Kind() Kind
	Status() int
	HasParent() bool
	Parents() []error
	AddParent(parent ...error)
	Unwrap() []error
}

type bifrostError struct {
	kind    Kind
	msg     string
	parents []error
}

// New builds an Error of the given Kind with a short diagnostic message and
// an optional set of parent causes. Nil parents are discarded.
func New(k Kind, msg string, parents ...error) Error {
	e := &bifrostError{kind: k, msg: msg}
	e.AddParent(parents...)
	return e
}

// Wrap tags an existing error with a Kind, keeping it as the sole parent.
func Wrap(k Kind, msg string, err error) Error {
	return New(k, msg, err)
}

func (e *bifrostError) Kind() Kind   { return e.kind }
func (e *bifrostError) Status() int  { return e.kind.Status() }
func (e *bifrostError) HasParent() bool {
	return len(e.parents) > 0
}

func (e *bifrostError) Parents() []error {
	return e.parents
}

func (e *bifrostError) AddParent(parent ...error) {
	for _, p := range parent {
		if p != nil {
			e.parents = append(e.parents, p)
		}
	}
}

func (e *bifrostError) Unwrap() []error {
	return e.parents
}

func (e *bifrostError) Error() string {
	var b strings.Builder
	b.WriteString(e.kind.String())
	if e.msg != "" {
		b.WriteString(": ")
		b.WriteString(e.msg)
	}
	for _, p := range e.parents {
		b.WriteString("; ")
		b.WriteString(p.Error())
	}
	return b.String()
}

// KindOf extracts the Kind of err if it (or one of its wrapped causes) is a
// bferr.Error, otherwise KindInternal.
func KindOf(err error) Kind {
	type kinder interface{ Kind() Kind }
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// StatusOf returns the HTTP status that should be sent for err.
func StatusOf(err error) int {
	type statuser interface{ Status() int }
	if s, ok := err.(statuser); ok {
		return s.Status()
	}
	return KindOf(err).Status()
}
