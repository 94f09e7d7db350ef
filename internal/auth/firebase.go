package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
)

// FirebaseVerifier checks Firebase ID tokens.
type FirebaseVerifier struct {
	client *fbauth.Client
}

// NewFirebaseVerifier creates the auth client of app.
func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (*FirebaseVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: create firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// Verify implements Verifier.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	t, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := Principal{UID: t.UID}
	if email, ok := t.Claims["email"].(string); ok {
		p.Email = email
	}
	if name, ok := t.Claims["name"].(string); ok {
		p.DisplayName = name
	}
	return p, nil
}
