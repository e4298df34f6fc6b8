// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindValidation:  "invalid_input",
		KindNotFound:    "not_found",
		KindUnavailable: "unavailable",
		KindPermission:  "permission",
		KindTimeout:     "timeout",
		KindUnknown:     "unknown",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}

func TestHelpers(t *testing.T) {
	if !IsNotFound(Errorf(KindNotFound, "alert %d", 42)) {
		t.Error("IsNotFound should match KindNotFound")
	}
	if IsNotFound(New(KindInternal, "boom")) {
		t.Error("IsNotFound should not match KindInternal")
	}
	if !IsUnavailable(Wrap(errors.New("disk full"), KindUnavailable, "store bypassed")) {
		t.Error("IsUnavailable should match KindUnavailable")
	}

	if Wrap(nil, KindInternal, "nothing") != nil {
		t.Error("Wrap(nil) must return nil")
	}
}
