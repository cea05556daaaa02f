package validations

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainAuth "github.com/zapa-ai/zapa/domains/auth"
	pkgError "github.com/zapa-ai/zapa/pkg/error"
)

// sixDigits matches the login code format before any database work happens.
var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func ValidateRequestCode(ctx context.Context, request domainAuth.RequestCodeRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.PhoneNumber, validation.Required, validation.Length(5, 32)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateVerify(ctx context.Context, request domainAuth.VerifyRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.PhoneNumber, validation.Required),
		validation.Field(&request.Code, validation.Required, validation.Match(sixDigits)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateAdminLogin(ctx context.Context, request domainAuth.AdminLoginRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Username, validation.Required),
		validation.Field(&request.Password, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
