package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityDebug, "debug"},
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTeamError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *TeamError
		want string
	}{
		{
			name: "no context",
			err:  NewTeamError("runner failed", nil),
			want: "team error: runner failed",
		},
		{
			name: "team and sprint",
			err:  NewTeamError("runner failed", nil).WithTeamID("alpha").WithSprint(2),
			want: "team error [team=alpha, sprint=2]: runner failed",
		},
		{
			name: "with cause",
			err:  NewTeamError("runner failed", fmt.Errorf("boom")).WithTeamID("alpha").WithAgentID("a1"),
			want: "team error [team=alpha, agent=a1]: runner failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTeamError_Is(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewTeamError("runner failed", cause).WithTeamID("alpha")

	if !Is(err, ErrSprintFailed) {
		t.Error("TeamError should match ErrSprintFailed")
	}
	if !Is(err, cause) {
		t.Error("TeamError should match its cause")
	}
	if !Is(err, &TeamError{}) {
		t.Error("TeamError should match *TeamError target")
	}
	if Is(err, ErrCardNotFound) {
		t.Error("TeamError should not match unrelated sentinel")
	}

	if got := err.WithSeverity(SeverityCritical).Severity(); got != SeverityCritical {
		t.Errorf("Severity() = %v, want critical", got)
	}
}

func TestNotFoundError(t *testing.T) {
	err := NewNotFoundError("participant", "bob").WithSentinel(ErrNotRegistered)

	if got, want := err.Error(), `participant "bob" not found`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrNotRegistered) {
		t.Error("expected match on ErrNotRegistered")
	}
	if Is(err, ErrChannelNotFound) {
		t.Error("unexpected match on ErrChannelNotFound")
	}
	if err.IsRetryable() {
		t.Error("NotFoundError should not be retryable")
	}

	wrapped := fmt.Errorf("send: %w", err)
	var nf *NotFoundError
	if !As(wrapped, &nf) {
		t.Fatal("As should find *NotFoundError through wrapping")
	}
	if nf.ResourceID != "bob" {
		t.Errorf("ResourceID = %q, want %q", nf.ResourceID, "bob")
	}

	withCause := NewNotFoundError("card", "c-1").WithCause(ErrCardNotFound)
	if !strings.Contains(withCause.Error(), "card not found") {
		t.Errorf("Error() = %q, want cause in message", withCause.Error())
	}
	if !Is(withCause, ErrCardNotFound) {
		t.Error("expected cause chain match")
	}
}

func TestAlreadyExistsError(t *testing.T) {
	err := NewAlreadyExistsError("channel", "pair-1").WithSentinel(ErrChannelExists)

	if got, want := err.Error(), `channel "pair-1" already exists`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrChannelExists) {
		t.Error("expected match on ErrChannelExists")
	}
	if !Is(err, &AlreadyExistsError{}) {
		t.Error("expected match on *AlreadyExistsError")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "message only",
			err:  NewValidationError("empty title"),
			want: "validation error: empty title",
		},
		{
			name: "field and value",
			err:  NewValidationError("out of range").WithField("overhead.pct").WithValue(1.5),
			want: "validation error [field=overhead.pct, value=1.5]: out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !Is(tt.err, ErrInvalidInput) {
				t.Error("ValidationError should match ErrInvalidInput")
			}
		})
	}

	status := NewValidationError("unknown status").WithSentinel(ErrInvalidStatus)
	if !Is(status, ErrInvalidStatus) || !Is(status, ErrInvalidInput) {
		t.Error("ValidationError should match both sentinels")
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("request to bob", 2*time.Second).WithCause(ErrRequestTimeout)

	if got, want := err.Error(), "timeout error: request to bob (timeout: 2s)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrTimeout) {
		t.Error("expected match on ErrTimeout")
	}
	if !Is(err, ErrRequestTimeout) {
		t.Error("expected match on ErrRequestTimeout")
	}
	if !err.IsRetryable() {
		t.Error("TimeoutError should be retryable")
	}
}

func TestResourceExhaustedError(t *testing.T) {
	err := NewResourceExhaustedError("in_progress", 3, 3).WithCause(ErrWIPLimitExceeded)

	if got, want := err.Error(), "resource exhausted: in_progress at limit (3/3)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrResourceExhausted) {
		t.Error("expected match on ErrResourceExhausted")
	}
	if !Is(err, ErrWIPLimitExceeded) {
		t.Error("expected match on ErrWIPLimitExceeded")
	}
	if GetSeverity(err) != SeverityInfo {
		t.Errorf("GetSeverity() = %v, want info", GetSeverity(err))
	}
}

func TestClassificationHelpers(t *testing.T) {
	plain := errors.New("plain")

	tests := []struct {
		name       string
		err        error
		retryable bool
		severity  Severity
		semantic  bool
	}{
		{"nil", nil, false, SeverityDebug, false},
		{"plain", plain, false, SeverityError, false},
		{"bare timeout sentinel", ErrTimeout, true, SeverityError, false},
		{"timeout", NewTimeoutError("op", time.Second), true, SeverityWarning, true},
		{"not found", NewNotFoundError("team", "x"), false, SeverityWarning, true},
		{"wrapped validation", Wrap(NewValidationError("bad"), "config"), false, SeverityWarning, true},
		{"team", NewTeamError("failed", nil), false, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.retryable)
			}
			if got := GetSeverity(tt.err); got != tt.severity {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.severity)
			}
			if got := IsSemanticError(tt.err); got != tt.semantic {
				t.Errorf("IsSemanticError() = %v, want %v", got, tt.semantic)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "ctx %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrCardNotFound, "move card %s", "c-9")
	if got, want := err.Error(), "move card c-9: card not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !Is(err, ErrCardNotFound) {
		t.Error("wrapped error should match sentinel")
	}
}
