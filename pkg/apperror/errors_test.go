package apperror

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeTemplateError, "key not found")
	if err.Error() != "[TEMPLATE_ERROR] key not found" {
		t.Errorf("Error() = %q", err.Error())
	}

	withField := NewWithField(CodeInvalidSUT, "base_url required", "services.api")
	if withField.Error() != "[INVALID_SUT] base_url required (field: services.api)" {
		t.Errorf("Error() = %q", withField.Error())
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeConnectionError, "cannot reach service")

	if !errors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if Code(err) != CodeConnectionError {
		t.Errorf("Code() = %v", Code(err))
	}
}

func TestIsAndCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeExpressionSecurity, "forbidden"))

	if !Is(err, CodeExpressionSecurity) {
		t.Error("Is() should unwrap the chain")
	}
	if Code(err) != CodeExpressionSecurity {
		t.Errorf("Code() = %v", Code(err))
	}
	if Code(errors.New("plain")) != CodeInternal {
		t.Error("plain errors map to CodeInternal")
	}
}

func TestSeverity(t *testing.T) {
	if !IsWarning(NewWarning(CodeTimeout, "slow")) {
		t.Error("IsWarning")
	}
	if !IsCritical(NewCritical(CodeStorageError, "disk full")) {
		t.Error("IsCritical")
	}
	if SeverityWarning.String() != "warning" || SeverityCritical.String() != "critical" {
		t.Error("Severity.String()")
	}
}

func TestGRPCConversion(t *testing.T) {
	err := New(CodeTimeout, "deadline hit")
	grpcErr := ToGRPC(err)

	st, ok := status.FromError(grpcErr)
	if !ok {
		t.Fatal("ToGRPC() did not produce a status error")
	}
	if st.Code() != codes.DeadlineExceeded {
		t.Errorf("grpc code = %v, want DeadlineExceeded", st.Code())
	}

	back := FromGRPC(grpcErr)
	if back.Code != CodeTimeout {
		t.Errorf("FromGRPC() code = %v, want CodeTimeout", back.Code)
	}

	if FromGRPC(nil) != nil {
		t.Error("FromGRPC(nil) should be nil")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	v.AddError(CodeInvalidSUT, "no services")
	v.AddWarning(CodeInvalidScenario, "empty description")
	v.AddErrorWithField(CodeInvalidSUT, "bad url", "services.api")

	if !v.HasErrors() || !v.HasWarnings() || v.IsValid() {
		t.Error("validation state is wrong")
	}
	if len(v.ErrorMessages()) != 2 {
		t.Errorf("ErrorMessages() = %v", v.ErrorMessages())
	}

	other := NewValidationErrors()
	other.AddError(CodeInvalidScenario, "no flow")
	v.Merge(other)
	if len(v.Errors) != 3 {
		t.Errorf("Merge() errors = %d", len(v.Errors))
	}
}
