// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors 提供统一错误辅助，不依赖 internal（设计 struct.md 4）
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误（可按需扩展错误码）
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrLedgerInconsistent marks a chain-integrity violation detected at
	// append or verify time (hash mismatch, non-dense ordinal, bad genesis).
	ErrLedgerInconsistent = errors.New("ledger: chain inconsistent")
	// ErrIdempotencyCollision marks a request whose idempotency key matches
	// an existing event with a different payload hash.
	ErrIdempotencyCollision = errors.New("ledger: idempotency key collision")
	// ErrLedgerContention marks a failed compare-and-append under
	// concurrent writers; callers should retry with backoff.
	ErrLedgerContention = errors.New("ledger: append contention")
	// ErrCanonicalEncoding marks a payload that cannot be canonically
	// encoded (non-integer number, NaN/Inf, unsupported type).
	ErrCanonicalEncoding = errors.New("canon: invalid payload")
	// ErrStorageUnavailable marks a backend connectivity failure.
	ErrStorageUnavailable = errors.New("storage: unavailable")
	// ErrLockTimeout marks an encounter lock acquisition that exceeded its
	// budget.
	ErrLockTimeout = errors.New("lock: acquire timeout")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
