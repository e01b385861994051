package perror

import (
	"errors"
	"testing"
)

func TestNewCarriesFields(t *testing.T) {
	pe := New(ERROR, SyntaxError, "unexpected token", ExtraField{Type: Hint, Value: "check your quoting"})
	if pe.Severity() != ERROR {
		t.Fatalf("Severity = %v, want ERROR", pe.Severity())
	}
	if pe.Code() != SyntaxError {
		t.Fatalf("Code = %v, want SyntaxError", pe.Code())
	}
	if pe.Message() != "unexpected token" {
		t.Fatalf("Message = %q", pe.Message())
	}
	if len(pe.Extra()) != 1 || pe.Extra()[0].Type != Hint {
		t.Fatalf("Extra = %+v", pe.Extra())
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	pe := Newf(FATAL, ProtocolViolation, "bad version %d.%d", 4, 0)
	if pe.Message() != "bad version 4.0" {
		t.Fatalf("Message = %q", pe.Message())
	}
}

func TestWrapPassesThroughExistingError(t *testing.T) {
	orig := New(FATAL, InvalidPassword, "nope")
	wrapped := Wrap(orig)
	if wrapped != orig {
		t.Fatal("Wrap should return the same Error value unchanged")
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) should return nil")
	}
}

func TestWrapPlainErrorBecomesInternalError(t *testing.T) {
	pe := Wrap(errors.New("boom"))
	if pe.Code() != InternalError {
		t.Fatalf("Code = %v, want InternalError", pe.Code())
	}
	if pe.Severity() != FATAL {
		t.Fatalf("Severity = %v, want FATAL", pe.Severity())
	}
	if pe.Message() != "boom" {
		t.Fatalf("Message = %q", pe.Message())
	}
}

func TestErrorImplementsGoErrorInterface(t *testing.T) {
	var err error = New(ERROR, UndefinedTable, "relation does not exist")
	if err.Error() == "" {
		t.Fatal("Error() should not be empty")
	}
}
