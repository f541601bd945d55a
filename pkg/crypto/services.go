package crypto

// Services bundles the crypto capabilities handed to protocol steps and the
// attachment pipeline
type Services struct {
	PRNG PRNG
	// AuthEncAlgorithm is used for freshly generated keys and sealed messages
	AuthEncAlgorithm byte
}

// NewServices returns services backed by prng. A nil prng selects crypto/rand.
func NewServices(prng PRNG) *Services {
	if prng == nil {
		prng = NewSystemPRNG()
	}
	return &Services{
		PRNG:             prng,
		AuthEncAlgorithm: AuthEncAES256CTRThenHMACSHA256,
	}
}

// AuthEnc returns the default algorithm
func (s *Services) AuthEnc() AuthEnc {
	return authEncAlgorithms[s.AuthEncAlgorithm]
}

// NewAuthEncKey generates a key for the default algorithm
func (s *Services) NewAuthEncKey() (AuthEncKey, error) {
	return GenerateAuthEncKey(s.AuthEncAlgorithm, s.PRNG)
}

// Seal encrypts plaintext for recipient with the default algorithm
func (s *Services) Seal(recipient CryptoIdentity, plaintext []byte) ([]byte, error) {
	return SealTo(recipient, s.AuthEncAlgorithm, plaintext, s.PRNG)
}
