package approval

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
)

type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

type Scheme string

const (
	// SchemeHMAC keys the token with a server secret and binds it to the action.
	SchemeHMAC Scheme = "hmac"
	// SchemeLegacy is the unkeyed digest used by links sent before HMAC
	// tokens existed. Both actions share one token.
	SchemeLegacy Scheme = "legacy"
)

const tokenLength = 20

type Tokens struct {
	scheme Scheme
	secret []byte
}

func NewTokens(scheme Scheme, secret string) (*Tokens, error) {
	switch scheme {
	case SchemeHMAC:
		if secret == "" {
			return nil, fmt.Errorf("hmac token scheme needs a secret")
		}
	case SchemeLegacy:
	default:
		return nil, fmt.Errorf("unknown token scheme %q", scheme)
	}
	return &Tokens{scheme: scheme, secret: []byte(secret)}, nil
}

// Compute derives the link token for one invoice and action. It depends only
// on the invoice id and creation time, so it is stable across calls.
func (t *Tokens) Compute(id uuid.UUID, createdAt time.Time, action Action) string {
	var sum []byte
	switch t.scheme {
	case SchemeLegacy:
		h := sha256.Sum256([]byte(id.String() + createdAt.UTC().Format(time.RFC3339Nano)))
		sum = h[:]
	default:
		mac := hmac.New(sha256.New, t.secret)
		mac.Write([]byte(id.String() + "|" + strconv.FormatInt(createdAt.UTC().UnixMicro(), 10) + "|" + string(action)))
		sum = mac.Sum(nil)
	}
	return base64.RawURLEncoding.EncodeToString(sum)[:tokenLength]
}

// Verify compares in constant time.
func (t *Tokens) Verify(id uuid.UUID, createdAt time.Time, action Action, token string) bool {
	want := t.Compute(id, createdAt, action)
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

// Links builds the approve/reject URLs embedded in manager notifications.
type Links struct {
	baseURL string
	tokens  *Tokens
}

func NewLinks(baseURL string, tokens *Tokens) *Links {
	return &Links{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens}
}

func (l *Links) URL(inv *model.Invoice, action Action) string {
	q := url.Values{}
	q.Set("action", string(action))
	q.Set("token", l.tokens.Compute(inv.ID, inv.CreatedAt, action))
	return fmt.Sprintf("%s/approval/%s?%s", l.baseURL, inv.ID, q.Encode())
}

// For returns the approve and reject links for inv.
func (l *Links) For(inv *model.Invoice) (approve, reject string) {
	return l.URL(inv, ActionApprove), l.URL(inv, ActionReject)
}
