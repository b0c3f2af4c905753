// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import "github.com/bassosimone/errclass"

// ErrClassifier classifies errors into categorical strings for structured
// logging. Implementations map errors to short, descriptive labels (e.g.,
// "ETIMEDOUT", "ECONNRESET") that facilitate systematic analysis of
// connection logs. This is distinct from [CloseReason], which tags *why* a
// connection's state machine terminated rather than describing the error
// for a log line (§7).
type ErrClassifier interface {
	Classify(err error) string
}

// ErrClassifierFunc adapts a function to the [ErrClassifier] interface.
//
// This allows using simple functions as classifiers:
//
//	cfg.ErrClassifier = ErrClassifierFunc(errclass.New)
type ErrClassifierFunc func(error) string

var _ ErrClassifier = ErrClassifierFunc(nil)

// Classify implements [ErrClassifier].
func (f ErrClassifierFunc) Classify(err error) string {
	return f(err)
}

// DefaultErrClassifier classifies errors using [github.com/bassosimone/errclass.New].
var DefaultErrClassifier = ErrClassifierFunc(errclass.New)
