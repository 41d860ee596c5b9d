package broadcast

// ChallengeBroadcast is sent by the server to a connection that is still authenticating.
type ChallengeBroadcast struct {
	Nonce []byte
}

// PasswordBroadcast answers a ChallengeBroadcast with an HMAC over the nonce.
type PasswordBroadcast struct {
	Username string
	Digest   []byte
}

// TokenBroadcast presents a signed token without being prompted.
type TokenBroadcast struct {
	Token []byte
}

// AuthResponseBroadcast tells the client whether it passed authentication.
type AuthResponseBroadcast struct {
	Passed bool
	Reason string
}

func (b *ChallengeBroadcast) BroadcastType() BroadcastType    { return BroadcastType_Challenge }
func (b *PasswordBroadcast) BroadcastType() BroadcastType     { return BroadcastType_Password }
func (b *TokenBroadcast) BroadcastType() BroadcastType        { return BroadcastType_Token }
func (b *AuthResponseBroadcast) BroadcastType() BroadcastType { return BroadcastType_AuthResponse }

func (b *ChallengeBroadcast) AppendPayload(out []byte) ([]byte, error) {
	return appendBytes(out, "ChallengeBroadcast", "Nonce", b.Nonce)
}

func (b *PasswordBroadcast) AppendPayload(out []byte) ([]byte, error) {
	out, err := appendString(out, "PasswordBroadcast", "Username", b.Username)
	if err != nil {
		return nil, err
	}
	return appendBytes(out, "PasswordBroadcast", "Digest", b.Digest)
}

func (b *TokenBroadcast) AppendPayload(out []byte) ([]byte, error) {
	return appendBytes(out, "TokenBroadcast", "Token", b.Token)
}

func (b *AuthResponseBroadcast) AppendPayload(out []byte) ([]byte, error) {
	out = appendBool(out, b.Passed)
	return appendString(out, "AuthResponseBroadcast", "Reason", b.Reason)
}

func ParseChallengeBroadcast(payload []byte) (*ChallengeBroadcast, error) {
	r := newReader("ChallengeBroadcast", payload)
	msg := &ChallengeBroadcast{Nonce: r.bytes("Nonce")}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

func ParsePasswordBroadcast(payload []byte) (*PasswordBroadcast, error) {
	r := newReader("PasswordBroadcast", payload)
	msg := &PasswordBroadcast{
		Username: r.string("Username"),
		Digest:   r.bytes("Digest"),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

func ParseTokenBroadcast(payload []byte) (*TokenBroadcast, error) {
	r := newReader("TokenBroadcast", payload)
	msg := &TokenBroadcast{Token: r.bytes("Token")}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}

func ParseAuthResponseBroadcast(payload []byte) (*AuthResponseBroadcast, error) {
	r := newReader("AuthResponseBroadcast", payload)
	msg := &AuthResponseBroadcast{
		Passed: r.bool("Passed"),
		Reason: r.string("Reason"),
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return msg, nil
}
