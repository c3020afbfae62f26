package security

import (
	"errors"
	"testing"

	"github.com/arklim/social-platform-accounts/internal/core/domain"
)

func assertRuleCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s violation, got nil", code)
	}
	var vErr *PasswordValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected PasswordValidationError, got %T", err)
	}
	if vErr.Code != code {
		t.Fatalf("expected code %s, got %s", code, vErr.Code)
	}
}

func TestDefaultPasswordValidatorAcceptsStrongPassphrase(t *testing.T) {
	validator := DefaultPasswordValidator()

	if err := validator.Validate("glacier-Bassoon!41-ember"); err != nil {
		t.Fatalf("expected strong passphrase to pass, got %v", err)
	}
}

func TestDefaultPasswordValidatorRuleOrder(t *testing.T) {
	validator := DefaultPasswordValidator()

	assertRuleCode(t, validator.Validate("Ab1!"), "min_length")
	assertRuleCode(t, validator.Validate("onlylowercase"), "character_classes")
	assertRuleCode(t, validator.Validate("Password123"), "weak_password")
}

func TestRequireDifferentFromRejectsReuse(t *testing.T) {
	validator := NewPasswordValidator(
		MinLengthRule(8),
		RequireDifferentFrom("Previous-Secret9"),
	)

	assertRuleCode(t, validator.Validate("Previous-Secret9"), "different")

	if err := validator.Validate("Next-Secret10"); err != nil {
		t.Fatalf("expected changed password to pass, got %v", err)
	}
}

func TestCharacterClassesCountsDistinctClasses(t *testing.T) {
	validator := NewPasswordValidator(RequireCharacterClassesRule(4))

	assertRuleCode(t, validator.Validate("NoDigitsHere!"), "character_classes")

	if err := validator.Validate("Dig1ts&Cases"); err != nil {
		t.Fatalf("expected four-class password to pass, got %v", err)
	}
}

func TestPasswordPolicyFeedsAccountIdentifiers(t *testing.T) {
	policy := NewPasswordPolicy()

	ctx := domain.PasswordContext{
		Username: "morgan.reyes",
		Email:    "morgan.reyes@example.com",
	}

	// A password built from the account's own identifiers must score poorly
	// once they are fed to the strength estimator.
	if err := policy.Validate("Morgan.reyes1!", ctx); err == nil {
		t.Fatal("expected identifier-derived password to be rejected")
	}

	if err := policy.Validate("glacier-Bassoon!41-ember", ctx); err != nil {
		t.Fatalf("expected unrelated passphrase to pass, got %v", err)
	}
}
