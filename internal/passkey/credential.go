package passkey

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/lgota-app/lgota_auth/internal/identity"
)

// Credential is an enrolled platform authenticator.
type Credential struct {
	ID              string
	UserID          string
	PublicKey       []byte
	SignCount       uint32
	AAGUID          []byte
	Attachment      string
	Transports      []string
	AttestationType string
	// Data is the full relying-party credential record as JSON.
	Data       []byte
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// EncodeID renders a raw credential id the way it is stored and exchanged.
func EncodeID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func newCredential(userID string, wc *webauthn.Credential, now time.Time) (Credential, error) {
	data, err := json.Marshal(wc)
	if err != nil {
		return Credential{}, fmt.Errorf("encode credential: %w", err)
	}
	transports := make([]string, 0, len(wc.Transport))
	for _, t := range wc.Transport {
		transports = append(transports, string(t))
	}
	return Credential{
		ID:              EncodeID(wc.ID),
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		SignCount:       wc.Authenticator.SignCount,
		AAGUID:          wc.Authenticator.AAGUID,
		Attachment:      string(wc.Authenticator.Attachment),
		Transports:      transports,
		AttestationType: wc.AttestationType,
		Data:            data,
		CreatedAt:       now,
	}, nil
}

// relyingParty decodes the stored record, trusting the stored counter over
// whatever was captured at enrollment.
func (c Credential) relyingParty() (webauthn.Credential, error) {
	var wc webauthn.Credential
	if len(c.Data) > 0 {
		if err := json.Unmarshal(c.Data, &wc); err != nil {
			return webauthn.Credential{}, fmt.Errorf("decode credential %s: %w", c.ID, err)
		}
	}
	if len(wc.ID) == 0 {
		raw, err := base64.RawURLEncoding.DecodeString(c.ID)
		if err != nil {
			return webauthn.Credential{}, fmt.Errorf("decode credential id %s: %w", c.ID, err)
		}
		wc.ID = raw
		wc.PublicKey = c.PublicKey
		wc.AttestationType = c.AttestationType
		wc.Authenticator.AAGUID = c.AAGUID
	}
	wc.Authenticator.SignCount = c.SignCount
	return wc, nil
}

// rpUser adapts an identity user and their credentials to webauthn.User.
type rpUser struct {
	user        identity.User
	credentials []webauthn.Credential
}

func newRPUser(user identity.User, stored []Credential) (*rpUser, error) {
	creds := make([]webauthn.Credential, 0, len(stored))
	for _, c := range stored {
		wc, err := c.relyingParty()
		if err != nil {
			return nil, err
		}
		creds = append(creds, wc)
	}
	return &rpUser{user: user, credentials: creds}, nil
}

func (u *rpUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *rpUser) WebAuthnName() string {
	return u.user.Phone
}

func (u *rpUser) WebAuthnDisplayName() string {
	return u.user.DisplayName()
}

func (u *rpUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
