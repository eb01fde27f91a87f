// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrInvalidFlow = errors.New("invalid flow")
var ErrStepNotFound = errors.New("step not found")
var ErrStepNotActive = errors.New("step not active")
var ErrStepNotSkippable = errors.New("step cannot be skipped")
var ErrFlowBusy = errors.New("flow step already executing")
var ErrFlowNotFound = errors.New("flow not found")
var ErrStepFailed = errors.New("step failed")

var ErrTransactionNotFound = errors.New("transaction not found")
var ErrInvalidTransition = errors.New("invalid transaction status transition")
var ErrInvalidDescriptor = errors.New("invalid transaction descriptor")
